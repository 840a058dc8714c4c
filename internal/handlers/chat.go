package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/auth"
	"github.com/pliu/securedm/internal/blob"
	"github.com/pliu/securedm/internal/chat"
	"github.com/pliu/securedm/internal/middleware"
	"github.com/pliu/securedm/internal/ws"
	"go.uber.org/zap"
)

const DefaultMaxUploadBytes = 10 << 20

type ChatHandler struct {
	Chat           *chat.Service
	Hub            *ws.Hub
	MaxUploadBytes int64
	Log            *zap.Logger
}

type StartThreadRequest struct {
	UserID int64 `json:"user_id"`
}

type SendMessageRequest struct {
	ThreadID  int64   `json:"thread_id"`
	ContactID int64   `json:"contact_id"`
	Content   *string `json:"content"`
}

type SendMessageResponse struct {
	Created   bool  `json:"created"`
	MessageID int64 `json:"message_id"`
	ThreadID  int64 `json:"thread_id"`
}

func session(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := middleware.Session(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	return claims, ok
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("invalid id")
	}
	return id, nil
}

func (h *ChatHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	claims, ok := session(w, r)
	if !ok {
		return
	}
	users, err := h.Chat.SearchIdentities(r.Context(), claims.UserID, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *ChatHandler) StartThread(w http.ResponseWriter, r *http.Request) {
	claims, ok := session(w, r)
	if !ok {
		return
	}
	var req StartThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	thread, err := h.Chat.StartThread(r.Context(), claims.UserID, req.UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"thread_id": thread.ID})
}

func (h *ChatHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	claims, ok := session(w, r)
	if !ok {
		return
	}
	threads, err := h.Chat.ListThreads(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// SendMessage accepts a JSON body for text, or multipart/form-data carrying
// either a content field or a file part.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := session(w, r)
	if !ok {
		return
	}

	req := chat.SendRequest{SenderID: claims.UserID}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := h.parseMultipart(w, r, &req); err != nil {
			writeError(w, h.Log, err)
			return
		}
	} else {
		var body SendMessageRequest
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, h.Log, err)
			return
		}
		req.ThreadID, req.ContactID, req.Content = body.ThreadID, body.ContactID, body.Content
	}

	msg, err := h.Chat.Send(r.Context(), req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, SendMessageResponse{Created: true, MessageID: msg.ID, ThreadID: msg.ThreadID})
}

func (h *ChatHandler) parseMultipart(w http.ResponseWriter, r *http.Request, req *chat.SendRequest) error {
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		return apperr.InvalidInput("malformed or oversized upload")
	}

	var err error
	if req.ThreadID, err = formID(r, "thread_id"); err != nil {
		return err
	}
	if req.ContactID, err = formID(r, "contact_id"); err != nil {
		return err
	}
	if _, ok := r.MultipartForm.Value["content"]; ok {
		content := r.FormValue("content")
		req.Content = &content
	}

	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return nil
	}
	if err != nil {
		return apperr.InvalidInput("malformed file part")
	}
	defer file.Close()
	if header.Size > limit {
		return apperr.InvalidInput("file too large")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return apperr.InvalidInput("malformed file part")
	}
	req.File = &chat.Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	return nil
}

func formID(r *http.Request, key string) (int64, error) {
	v := r.FormValue(key)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("invalid " + key)
	}
	return id, nil
}

func (h *ChatHandler) GetThreadMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := session(w, r)
	if !ok {
		return
	}
	threadID, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	messages, err := h.Chat.ThreadMessages(r.Context(), claims.UserID, claims.Passphrase, threadID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandler) GetContactMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := session(w, r)
	if !ok {
		return
	}
	contactID, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	messages, err := h.Chat.ContactMessages(r.Context(), claims.UserID, claims.Passphrase, contactID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := session(w, r)
	if !ok {
		return
	}
	messageID, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Chat.MarkRead(r.Context(), claims.UserID, messageID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	claims, ok := session(w, r)
	if !ok {
		return
	}
	id, ok := blob.IDFromLocator(blob.LocatorPrefix + mux.Vars(r)["id"])
	if !ok {
		writeError(w, h.Log, apperr.NotFound("file not found"))
		return
	}
	obj, err := h.Chat.OpenFile(r.Context(), claims.UserID, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": obj.Name}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Write(obj.Data)
}

// ServeWs attaches an authenticated connection to the hub.
func (h *ChatHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	claims, ok := session(w, r)
	if !ok {
		return
	}
	ws.ServeWs(h.Hub, w, r, claims.UserID)
}
