package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorrc/marketplace-realtime/internal/adapters/primary/validation"
	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
	"github.com/lorrc/marketplace-realtime/internal/infrastructure/metrics"
)

// Room for multipart boundaries and headers on top of the image itself.
const multipartOverhead = 64 << 10

// ImageFormField is the multipart field carrying a chat image.
const ImageFormField = "image"

// ChatHandler handles HTTP requests for the caller's chats.
type ChatHandler struct {
	chats          ports.ChatService
	userLookup     ports.UserLookupService
	maxUploadBytes int64
	metrics        *metrics.Metrics
	errorHandler   *ErrorHandler
	logger         *slog.Logger
}

// NewChatHandler creates a new ChatHandler. maxUploadBytes is capped at
// the domain image limit.
func NewChatHandler(
	chats ports.ChatService,
	userLookup ports.UserLookupService,
	maxUploadBytes int64,
	m *metrics.Metrics,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *ChatHandler {
	if maxUploadBytes <= 0 || maxUploadBytes > domain.MaxImageSize {
		maxUploadBytes = domain.MaxImageSize
	}
	return &ChatHandler{
		chats:          chats,
		userLookup:     userLookup,
		maxUploadBytes: maxUploadBytes,
		metrics:        m,
		errorHandler:   errorHandler,
		logger:         logger.With("handler", "chat"),
	}
}

// RegisterRoutes registers the /chats routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/me", func(r chi.Router) {
		r.Get("/", h.HandleListChats)
		r.Post("/", h.HandleOpenChat)

		r.Route("/{chatID}", func(r chi.Router) {
			r.Get("/messages", h.HandleListMessages)
			r.Patch("/read", h.HandleMarkRead)
			r.Post("/upload", h.HandleUpload)
		})
	})
}

// --- Request/Response DTOs ---

// OpenChatRequest defines the expected JSON body for create-or-get.
type OpenChatRequest struct {
	RecipientID string `json:"recipientId"`
}

// Validate validates the open chat request
func (r *OpenChatRequest) Validate() error {
	return validation.NewValidator().
		Required("recipientId", r.RecipientID).
		UUID("recipientId", r.RecipientID).
		Err()
}

// ChatDTO defines the JSON response for a chat as seen by one participant.
type ChatDTO struct {
	ChatID       string                  `json:"chatId"`
	Counterpart  UserInfoDTO             `json:"counterpart"`
	LastMessage  *domain.MessageSnapshot `json:"lastMessage,omitempty"`
	UnreadCount  int                     `json:"unreadCount"`
	CreatedAt    string                  `json:"createdAt"`
	Participants []string                `json:"participants"`
}

// MarkReadResponse reports how many messages were flipped to read.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

func toChatDTO(chat *domain.Chat, viewerID uuid.UUID, users userDirectory) ChatDTO {
	dto := ChatDTO{
		ChatID:       chat.ID.String(),
		Counterpart:  users.get(chat.Counterpart(viewerID)),
		UnreadCount:  chat.UnreadCount,
		CreatedAt:    chat.CreatedAt.UTC().Format(time.RFC3339Nano),
		Participants: []string{chat.ParticipantA.String(), chat.ParticipantB.String()},
	}
	if chat.LastMessage != nil {
		snapshot := domain.NewMessageSnapshot(chat.LastMessage)
		dto.LastMessage = &snapshot
	}
	return dto
}

func toMessageSnapshots(messages []*domain.ChatMessage) []domain.MessageSnapshot {
	out := make([]domain.MessageSnapshot, 0, len(messages))
	for _, msg := range messages {
		out = append(out, domain.NewMessageSnapshot(msg))
	}
	return out
}

// --- Handlers ---

// HandleListChats handles GET /chats/me
func (h *ChatHandler) HandleListChats(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	chats, err := h.chats.ListChats(r.Context(), claims.UserID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	counterpartIDs := make([]uuid.UUID, 0, len(chats))
	for _, chat := range chats {
		counterpartIDs = append(counterpartIDs, chat.Counterpart(claims.UserID))
	}
	users, err := resolveUsers(r.Context(), h.userLookup, counterpartIDs)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	dtos := make([]ChatDTO, 0, len(chats))
	for _, chat := range chats {
		dtos = append(dtos, toChatDTO(chat, claims.UserID, users))
	}
	WriteList(w, dtos)
}

// HandleOpenChat handles POST /chats/me. It answers 201 when the chat was
// created and 200 when it already existed.
func (h *ChatHandler) HandleOpenChat(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	req, err := validation.DecodeAndValidate[OpenChatRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	chat, created, err := h.chats.OpenChat(r.Context(), claims.UserID, uuid.MustParse(req.RecipientID))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	users, err := resolveUsers(r.Context(), h.userLookup, []uuid.UUID{chat.Counterpart(claims.UserID)})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	dto := toChatDTO(chat, claims.UserID, users)
	if created {
		h.logger.Info("chat created", "chat_id", chat.ID, "user_id", claims.UserID)
		WriteCreated(w, dto)
		return
	}
	WriteJSON(w, http.StatusOK, dto)
}

// HandleListMessages handles GET /chats/me/{chatID}/messages
func (h *ChatHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	chatID, err := validation.URLParamUUID(r, "chatID")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	messages, err := h.chats.GetMessages(r.Context(), claims.UserID, chatID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteList(w, toMessageSnapshots(messages))
}

// HandleMarkRead handles PATCH /chats/me/{chatID}/read
func (h *ChatHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	chatID, err := validation.URLParamUUID(r, "chatID")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	updated, err := h.chats.MarkRead(r.Context(), claims.UserID, chatID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, MarkReadResponse{Updated: updated})
}

// HandleUpload handles POST /chats/me/{chatID}/upload. The image is
// streamed from the multipart field straight into the chat service.
func (h *ChatHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	chatID, err := validation.URLParamUUID(r, "chatID")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)

	reader, err := r.MultipartReader()
	if err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Expected a multipart/form-data body"))
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.recordUpload(err, 0)
			h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Malformed multipart body"))
			return
		}
		if part.FormName() != ImageFormField {
			_ = part.Close()
			continue
		}

		body := &countingReader{r: part}
		msg, err := h.chats.UploadImage(r.Context(), ports.UploadImageParams{
			ChatID:   chatID,
			SenderID: claims.UserID,
			Filename: part.FileName(),
			Body:     body,
		})
		_ = part.Close()
		h.recordUpload(err, body.n)
		if err != nil {
			h.errorHandler.Handle(w, r, err)
			return
		}

		h.logger.Info("image uploaded", "chat_id", chatID, "message_id", msg.ID, "bytes", body.n)
		WriteCreated(w, domain.NewMessageSnapshot(msg))
		return
	}

	h.errorHandler.Handle(w, r, apperrors.NewValidationError(
		apperrors.ErrMessageEmpty,
		"Validation failed",
		map[string]interface{}{"fields": map[string][]string{ImageFormField: {"This field is required"}}},
	))
}

func (h *ChatHandler) recordUpload(err error, size int64) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case err == nil:
		h.metrics.Upload("accepted", size)
	case errors.Is(err, apperrors.ErrImageTooLarge),
		errors.Is(err, apperrors.ErrUnsupportedImageType),
		errors.As(err, &maxBytesErr):
		h.metrics.Upload("rejected", size)
	default:
		h.metrics.Upload("failed", size)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
