// Package docs registers the OpenAPI document served at /swagger. It follows
// the layout `swag init -g cmd/battled/main.go` produces; regenerate it after
// changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/rpc": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Dispatches on the \"type\" field: warmup, find_random_match, create_room, join_room, create_invitation_room, create_bot_room, trigger_bot_match, send_message, end_session, get_room, analyze, translate, detailed_explanation, progress_analysis. Core failures are answered with 200 and success=false.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Battle"],
                "summary": "Run a battle command",
                "operationId": "rpc",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Client key for send_message retries",
                        "name": "Idempotency-Key",
                        "in": "header"
                    },
                    {
                        "description": "Command envelope plus command fields",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.Envelope"}
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.MatchResponse"}
                    },
                    "400": {
                        "description": "Malformed body or unknown type",
                        "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}
                    },
                    "401": {
                        "description": "Missing or invalid credentials",
                        "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}
                    },
                    "429": {
                        "description": "Rate limited",
                        "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}
                    }
                }
            }
        }
    },
    "definitions": {
        "handlers.Envelope": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "example": "find_random_match"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "bad_request"},
                "message": {"type": "string", "example": "malformed JSON body"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.Failure": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "room_taken"},
                "error": {"type": "string", "example": "room taken or gone"},
                "request_id": {"type": "string"},
                "success": {"type": "boolean", "example": false}
            }
        },
        "handlers.Opponent": {
            "type": "object",
            "properties": {
                "avatar": {"type": "string"},
                "id": {"type": "string"},
                "name": {"type": "string"}
            }
        },
        "handlers.MatchResponse": {
            "type": "object",
            "properties": {
                "matched": {"type": "boolean"},
                "message": {"type": "string"},
                "myDesc": {"type": "string"},
                "myIcon": {"type": "string"},
                "myRole": {"type": "string"},
                "opponent": {"$ref": "#/definitions/handlers.Opponent"},
                "roomId": {"type": "string"},
                "success": {"type": "boolean"},
                "topic": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Enter \"Bearer {token}\"",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Fluency Battle API",
	Description:      "Learner matchmaking, live sessions and battle scoring.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
