// Battle RPC handlers.
//
// Every client action goes through a single endpoint:
//
//	POST /rpc   {"type": "<command>", ...command fields}
//
// The type selects a typed command from the registry below. A missing or
// malformed body and an unknown type are transport errors (400). Anything
// the battle core rejects is answered with 200 and success=false so the
// client can show the message and keep going.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/http/middleware"
	"github.com/tbourn/go-fluency-battle/internal/services"
)

//
// Service contracts (context-aware)
//

// Matchmaker creates and joins rooms.
type Matchmaker interface {
	FindOrCreateRandomMatch(ctx context.Context, p domain.Participant, requestedSeconds int) (*services.MatchResult, error)
	CreatePrivateRoom(ctx context.Context, host domain.Participant, requestedSeconds int) (*domain.Room, error)
	JoinPrivateRoom(ctx context.Context, code string, joiner domain.Participant, requestedSeconds int) (*domain.Room, error)
	CreateInvitationRoom(ctx context.Context, host, guest domain.Participant) (*domain.Room, error)
	CreateBotRoom(ctx context.Context, p domain.Participant, personaID string) (*domain.Room, error)
	TriggerBotMatch(ctx context.Context, roomID, requesterID string) (*services.BotMatch, error)
}

// Sessions carries the live conversation.
type Sessions interface {
	SendMessage(ctx context.Context, roomID, senderID, text, clientKey string) (*services.SendResult, error)
	EndSession(ctx context.Context, roomID, userID string) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID, userID string) (*services.RoomView, error)
}

// Analyzer scores a finished or running room.
type Analyzer interface {
	Analyze(ctx context.Context, roomID, requesterID string) (*domain.AnalysisResult, error)
}

// Coach answers the study commands outside a room.
type Coach interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, bool, error)
	Explain(ctx context.Context, c services.Correction, motherTongue string) (services.Explanation, error)
	AnalyzeProgress(ctx context.Context, corrections []services.Correction) services.Progress
}

//
// Handler wiring
//

// Handlers dispatches RPC commands to the battle services.
type Handlers struct {
	match    Matchmaker
	sessions Sessions
	analyzer Analyzer
	coach    Coach
}

// New constructs a Handlers bound to the given services.
func New(match Matchmaker, sessions Sessions, analyzer Analyzer, coach Coach) *Handlers {
	return &Handlers{match: match, sessions: sessions, analyzer: analyzer, coach: coach}
}

type command func(h *Handlers, c *gin.Context, uid string, body []byte)

var commands = map[string]command{
	"warmup":                 (*Handlers).warmup,
	"find_random_match":      (*Handlers).findRandomMatch,
	"create_room":            (*Handlers).createRoom,
	"join_room":              (*Handlers).joinRoom,
	"create_invitation_room": (*Handlers).createInvitationRoom,
	"create_bot_room":        (*Handlers).createBotRoom,
	"trigger_bot_match":      (*Handlers).triggerBotMatch,
	"send_message":           (*Handlers).sendMessage,
	"end_session":            (*Handlers).endSession,
	"get_room":               (*Handlers).getRoom,
	"analyze":                (*Handlers).analyze,
	"translate":              (*Handlers).translate,
	"detailed_explanation":   (*Handlers).detailedExplanation,
	"progress_analysis":      (*Handlers).progressAnalysis,
}

// Commands lists the registered command types in order.
func Commands() []string {
	out := make([]string, 0, len(commands))
	for k := range commands {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

//
// DTOs
//

// Envelope carries the command type; the remaining fields depend on it.
type Envelope struct {
	Type string `json:"type" example:"find_random_match"`
}

// ProfileFields are the caller's display fields sent with room commands.
type ProfileFields struct {
	UserName   string `json:"userName" example:"Mina"`
	UserAvatar string `json:"userAvatar" example:"🦊"`
	// SessionDuration is the requested length in seconds; 0 means unlimited
	// and an absent value uses the server default.
	SessionDuration *int `json:"sessionDuration" binding:"omitempty,min=0,max=7200" example:"420"`
}

func (p ProfileFields) participant(uid string) domain.Participant {
	return domain.Participant{ID: uid, Name: strings.TrimSpace(p.UserName), Avatar: strings.TrimSpace(p.UserAvatar)}
}

func (p ProfileFields) seconds() int {
	if p.SessionDuration == nil {
		return -1
	}
	return *p.SessionDuration
}

// JoinRoomRequest joins a private room by code.
type JoinRoomRequest struct {
	ProfileFields
	RoomCode string `json:"roomCode" binding:"required" example:"483920"`
}

// InvitationRequest creates a room for a known pair.
type InvitationRequest struct {
	HostName    string `json:"hostName"`
	HostAvatar  string `json:"hostAvatar"`
	GuestID     string `json:"guestId" binding:"required"`
	GuestName   string `json:"guestName"`
	GuestAvatar string `json:"guestAvatar"`
}

// BotRoomRequest starts a practice match with a chosen persona.
type BotRoomRequest struct {
	ProfileFields
	BotID string `json:"botId" example:"emma"`
}

// RoomRequest addresses an existing room.
type RoomRequest struct {
	RoomID string `json:"roomId" binding:"required" example:"8d0c6c64-5a53-4a5e-9a53-0f3f7c1f8b11"`
}

// SendMessageRequest posts one message. ClientKey is used when no
// Idempotency-Key header is sent.
type SendMessageRequest struct {
	RoomID    string `json:"roomId" binding:"required"`
	Text      string `json:"text" example:"I am going to the market tomorrow."`
	ClientKey string `json:"clientKey" binding:"omitempty,max=200"`
}

// Opponent is the other participant as seen by the caller.
type Opponent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// MatchResponse answers find_random_match.
type MatchResponse struct {
	Success  bool      `json:"success"`
	Matched  bool      `json:"matched"`
	RoomID   string    `json:"roomId"`
	Opponent *Opponent `json:"opponent,omitempty"`
	MyRole   string    `json:"myRole,omitempty"`
	MyIcon   string    `json:"myIcon,omitempty"`
	MyDesc   string    `json:"myDesc,omitempty"`
	Topic    string    `json:"topic,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// RoomResponse answers commands that create or join a room.
type RoomResponse struct {
	Success  bool      `json:"success"`
	RoomID   string    `json:"roomId"`
	RoomCode string    `json:"roomCode,omitempty"`
	Opponent *Opponent `json:"opponent,omitempty"`
}

// BotMatchResponse answers trigger_bot_match.
type BotMatchResponse struct {
	Success  bool         `json:"success"`
	Assigned bool         `json:"assigned"`
	Room     *domain.Room `json:"room"`
}

// SendMessageResponse answers send_message.
type SendMessageResponse struct {
	Success    bool                 `json:"success"`
	MessageID  string               `json:"messageId"`
	Duplicate  bool                 `json:"duplicate,omitempty"`
	Accuracy   int                  `json:"accuracy"`
	ErrorLevel string               `json:"errorLevel"`
	Correction *services.Correction `json:"correction"`
	Reply      *domain.Message      `json:"reply,omitempty"`
}

// RoomViewResponse answers get_room and end_session.
type RoomViewResponse struct {
	Success  bool             `json:"success"`
	Room     *domain.Room     `json:"room"`
	Messages []domain.Message `json:"messages,omitempty"`
}

// AnalysisResponse answers analyze.
type AnalysisResponse struct {
	Success bool                   `json:"success"`
	Results *domain.AnalysisResult `json:"results"`
}

// TranslateRequest asks for a translation of one message.
type TranslateRequest struct {
	Message        string `json:"message" example:"Where is the station?"`
	TargetLanguage string `json:"targetLanguage" example:"Hindi"`
}

// TranslateResponse answers translate. Fallback is set when the model was
// unavailable and Translation holds the canned text.
type TranslateResponse struct {
	Success     bool   `json:"success"`
	Translation string `json:"translation"`
	Fallback    bool   `json:"fallback,omitempty"`
}

// ExplanationRequest asks for a longer walkthrough of one correction.
type ExplanationRequest struct {
	Original     string `json:"original"`
	Corrected    string `json:"corrected"`
	Reason       string `json:"reason"`
	MotherTongue string `json:"motherTongue" example:"Telugu"`
}

// ExplanationResponse answers detailed_explanation.
type ExplanationResponse struct {
	Success bool `json:"success"`
	services.Explanation
}

// ProgressRequest carries a learner's past corrections.
type ProgressRequest struct {
	Corrections []services.Correction `json:"corrections"`
}

// ProgressResponse answers progress_analysis.
type ProgressResponse struct {
	Success bool `json:"success"`
	services.Progress
}

//
// Dispatcher
//

// Dispatch godoc
// @ID          rpc
// @Summary     Run a battle command
// @Description Dispatches on the "type" field: warmup, find_random_match, create_room, join_room,
// @Description create_invitation_room, create_bot_room, trigger_bot_match, send_message, end_session,
// @Description get_room, analyze, translate, detailed_explanation, progress_analysis.
// @Description Core failures are answered with 200 and success=false.
// @Tags        Battle
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string             false  "Client key for send_message retries"
// @Param       body             body    handlers.Envelope  true   "Command envelope plus command fields"
//
// @Success     200  {object}  handlers.MatchResponse
// @Success     200  {object}  handlers.Failure
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed body or unknown type"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid credentials"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Router      /rpc [post]
func (h *Handlers) Dispatch(c *gin.Context) {
	uid, found := middleware.UserID(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing identity")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	var env Envelope
	if len(body) == 0 || json.Unmarshal(body, &env) != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no data")
		return
	}
	typ := strings.TrimSpace(env.Type)
	if typ == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing request type")
		return
	}
	cmd, known := commands[typ]
	if !known {
		fail(c, http.StatusBadRequest, ErrCodeUnknownType, fmt.Sprintf("unknown request type %q", typ))
		return
	}

	middleware.TagRPC(c, typ)
	cmd(h, c, uid, body)
}

// bind decodes and validates the command fields; on failure it writes a 400.
func bind(c *gin.Context, body []byte, dst any) bool {
	if err := binding.JSON.BindBody(body, dst); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request fields")
		return false
	}
	return true
}

func opponentOf(r *domain.Room, uid string) *Opponent {
	if r == nil || r.OpponentID == nil {
		return nil
	}
	p := r.Opponent(uid)
	return &Opponent{ID: p.ID, Name: p.Name, Avatar: p.Avatar}
}

//
// Commands
//

func (h *Handlers) warmup(c *gin.Context, _ string, _ []byte) {
	ok(c, http.StatusOK, gin.H{"success": true, "message": "Warmed up"})
}

func (h *Handlers) findRandomMatch(c *gin.Context, uid string, body []byte) {
	var req ProfileFields
	if !bind(c, body, &req) {
		return
	}
	res, err := h.match.FindOrCreateRandomMatch(c.Request.Context(), req.participant(uid), req.seconds())
	if err != nil {
		failed(c, "find_random_match", err)
		return
	}
	out := MatchResponse{Success: true, Matched: res.Matched, RoomID: res.Room.ID}
	if res.AlreadyWaiting {
		out.Message = "Already waiting"
	}
	if res.Matched {
		out.Opponent = opponentOf(res.Room, uid)
		if rd := res.Room.RoleData; rd != nil {
			out.Topic = rd.Topic
			if res.Room.HostID == uid {
				out.MyRole, out.MyIcon, out.MyDesc = rd.Player1Role, rd.Player1Icon, rd.Player1Desc
			} else {
				out.MyRole, out.MyIcon, out.MyDesc = rd.Player2Role, rd.Player2Icon, rd.Player2Desc
			}
		}
	}
	ok(c, http.StatusOK, out)
}

func (h *Handlers) createRoom(c *gin.Context, uid string, body []byte) {
	var req ProfileFields
	if !bind(c, body, &req) {
		return
	}
	room, err := h.match.CreatePrivateRoom(c.Request.Context(), req.participant(uid), req.seconds())
	if err != nil {
		failed(c, "create_room", err)
		return
	}
	ok(c, http.StatusOK, RoomResponse{Success: true, RoomID: room.ID, RoomCode: room.Code})
}

func (h *Handlers) joinRoom(c *gin.Context, uid string, body []byte) {
	var req JoinRoomRequest
	if !bind(c, body, &req) {
		return
	}
	room, err := h.match.JoinPrivateRoom(c.Request.Context(), strings.TrimSpace(req.RoomCode), req.participant(uid), req.seconds())
	if err != nil {
		failed(c, "join_room", err)
		return
	}
	ok(c, http.StatusOK, RoomResponse{Success: true, RoomID: room.ID, Opponent: opponentOf(room, uid)})
}

func (h *Handlers) createInvitationRoom(c *gin.Context, uid string, body []byte) {
	var req InvitationRequest
	if !bind(c, body, &req) {
		return
	}
	host := domain.Participant{ID: uid, Name: req.HostName, Avatar: req.HostAvatar}
	guest := domain.Participant{ID: strings.TrimSpace(req.GuestID), Name: req.GuestName, Avatar: req.GuestAvatar}
	room, err := h.match.CreateInvitationRoom(c.Request.Context(), host, guest)
	if err != nil {
		failed(c, "create_invitation_room", err)
		return
	}
	ok(c, http.StatusOK, RoomResponse{Success: true, RoomID: room.ID})
}

func (h *Handlers) createBotRoom(c *gin.Context, uid string, body []byte) {
	var req BotRoomRequest
	if !bind(c, body, &req) {
		return
	}
	room, err := h.match.CreateBotRoom(c.Request.Context(), req.participant(uid), strings.TrimSpace(req.BotID))
	if err != nil {
		failed(c, "create_bot_room", err)
		return
	}
	ok(c, http.StatusOK, RoomResponse{Success: true, RoomID: room.ID, Opponent: opponentOf(room, uid)})
}

func (h *Handlers) triggerBotMatch(c *gin.Context, uid string, body []byte) {
	var req RoomRequest
	if !bind(c, body, &req) {
		return
	}
	res, err := h.match.TriggerBotMatch(c.Request.Context(), req.RoomID, uid)
	if err != nil {
		failed(c, "trigger_bot_match", err)
		return
	}
	ok(c, http.StatusOK, BotMatchResponse{Success: true, Assigned: res.Assigned, Room: res.Room})
}

func (h *Handlers) sendMessage(c *gin.Context, uid string, body []byte) {
	var req SendMessageRequest
	if !bind(c, body, &req) {
		return
	}
	key := middleware.ClientKey(c, req.ClientKey)
	res, err := h.sessions.SendMessage(c.Request.Context(), req.RoomID, uid, req.Text, key)
	if err != nil {
		failed(c, "send_message", err)
		return
	}
	acc := services.PerfectAccuracy()
	if res.Accuracy != nil {
		acc = *res.Accuracy
	}
	ok(c, http.StatusOK, SendMessageResponse{
		Success:    true,
		MessageID:  res.Message.ID,
		Duplicate:  res.Duplicate,
		Accuracy:   acc.Accuracy,
		ErrorLevel: acc.ErrorLevel,
		Correction: acc.Correction,
		Reply:      res.Reply,
	})
}

func (h *Handlers) endSession(c *gin.Context, uid string, body []byte) {
	var req RoomRequest
	if !bind(c, body, &req) {
		return
	}
	room, err := h.sessions.EndSession(c.Request.Context(), req.RoomID, uid)
	if err != nil {
		failed(c, "end_session", err)
		return
	}
	ok(c, http.StatusOK, RoomViewResponse{Success: true, Room: room})
}

func (h *Handlers) getRoom(c *gin.Context, uid string, body []byte) {
	var req RoomRequest
	if !bind(c, body, &req) {
		return
	}
	view, err := h.sessions.GetRoom(c.Request.Context(), req.RoomID, uid)
	if err != nil {
		failed(c, "get_room", err)
		return
	}
	ok(c, http.StatusOK, RoomViewResponse{Success: true, Room: view.Room, Messages: view.Messages})
}

func (h *Handlers) analyze(c *gin.Context, uid string, body []byte) {
	var req RoomRequest
	if !bind(c, body, &req) {
		return
	}
	res, err := h.analyzer.Analyze(c.Request.Context(), req.RoomID, uid)
	if err != nil {
		failed(c, "analyze", err)
		return
	}
	ok(c, http.StatusOK, AnalysisResponse{Success: true, Results: res})
}

func (h *Handlers) translate(c *gin.Context, _ string, body []byte) {
	var req TranslateRequest
	if !bind(c, body, &req) {
		return
	}
	text, fromModel, err := h.coach.Translate(c.Request.Context(), req.Message, req.TargetLanguage)
	if err != nil {
		failed(c, "translate", err)
		return
	}
	ok(c, http.StatusOK, TranslateResponse{Success: true, Translation: text, Fallback: !fromModel})
}

func (h *Handlers) detailedExplanation(c *gin.Context, _ string, body []byte) {
	var req ExplanationRequest
	if !bind(c, body, &req) {
		return
	}
	corr := services.Correction{Original: req.Original, Corrected: req.Corrected, Reason: req.Reason}
	ex, err := h.coach.Explain(c.Request.Context(), corr, req.MotherTongue)
	if err != nil {
		failed(c, "detailed_explanation", err)
		return
	}
	ok(c, http.StatusOK, ExplanationResponse{Success: true, Explanation: ex})
}

func (h *Handlers) progressAnalysis(c *gin.Context, _ string, body []byte) {
	var req ProgressRequest
	if !bind(c, body, &req) {
		return
	}
	p := h.coach.AnalyzeProgress(c.Request.Context(), req.Corrections)
	ok(c, http.StatusOK, ProgressResponse{Success: true, Progress: p})
}
