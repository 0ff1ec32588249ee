package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/veilroom/veilroom/internal/avatar"
	apperrors "github.com/veilroom/veilroom/internal/platform/errors"
	"github.com/veilroom/veilroom/internal/services/relay/storage"
	"github.com/veilroom/veilroom/internal/session"
)

type createSessionRequest struct {
	Participants int    `json:"participants"`
	Question     string `json:"question"`
	Answer       string `json:"answer"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	JoinURL   string `json:"join_url"`
	QRCodeURL string `json:"qr_code_url"`
}

type securityQuestionRequest struct {
	JoinReference string `json:"join_reference"`
}

type securityQuestionResponse struct {
	SessionID        string `json:"session_id"`
	SecurityQuestion string `json:"security_question"`
}

type verifyAnswerRequest struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

type verifyAnswerResponse struct {
	Verified bool   `json:"verified"`
	UserID   string `json:"user_id,omitempty"`
	Code     string `json:"code,omitempty"`
}

type storeIdentityKeyRequest struct {
	SessionID         string `json:"session_id"`
	ParticipantID     string `json:"participant_id"`
	IdentityPublicKey string `json:"identity_public_key"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type uploadResponse struct {
	Filename string `json:"filename"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("relay: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), errorResponse{
		Error: err.Error(),
		Code:  string(apperrors.CodeOf(err)),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err))
		return false
	}
	return true
}

func (a *app) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Participants < 1 || req.Participants > len(avatar.Pool) {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("participants must be between 1 and %d", len(avatar.Pool))))
		return
	}
	question := strings.TrimSpace(req.Question)
	answer := strings.TrimSpace(req.Answer)
	if question == "" || answer == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "question and answer are required"))
		return
	}

	sessionID, err := a.newSessionID()
	if err != nil {
		log.Printf("relay: generate session id: %v", err)
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "failed to create session", err))
		return
	}

	if err := a.store.CreateSession(r.Context(), storage.SessionRecord{
		ID:        sessionID,
		Capacity:  req.Participants,
		Question:  question,
		Answer:    answer,
		CreatedAt: a.now().UTC(),
	}); err != nil {
		log.Printf("relay: create session: %v", err)
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "failed to create session", err))
		return
	}

	joinURL := a.baseURL + "/join/" + sessionID
	png, err := qrcode.Encode(joinURL, qrcode.Medium, 256)
	if err != nil {
		log.Printf("relay: encode join qr: %v", err)
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "failed to encode qr code", err))
		return
	}

	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID: sessionID,
		JoinURL:   joinURL,
		QRCodeURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
}

func (a *app) handleGetSecurityQuestion(w http.ResponseWriter, r *http.Request) {
	var req securityQuestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	admission, err := a.gate.Admit(r.Context(), req.JoinReference)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, securityQuestionResponse{
		SessionID:        admission.SessionID,
		SecurityQuestion: admission.Question,
	})
}

func (a *app) handleVerifySecurityAnswer(w http.ResponseWriter, r *http.Request) {
	var req verifyAnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "session_id is required"))
		return
	}

	verification, err := a.gate.Verify(r.Context(), req.SessionID, req.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	// A wrong answer is a normal outcome, not an HTTP failure: the
	// caller may retry. The code tags the refusal for clients.
	if !verification.Verified {
		writeJSON(w, http.StatusOK, verifyAnswerResponse{
			Verified: false,
			Code:     string(apperrors.CodeChallengeFailed),
		})
		return
	}
	writeJSON(w, http.StatusOK, verifyAnswerResponse{
		Verified: true,
		UserID:   verification.ClientID,
	})
}

func (a *app) handleStoreIdentityKey(w http.ResponseWriter, r *http.Request) {
	var req storeIdentityKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.ParticipantID) == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "session_id and participant_id are required"))
		return
	}
	if strings.TrimSpace(req.IdentityPublicKey) == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "identity_public_key is required"))
		return
	}

	_, ok, err := a.store.Session(r.Context(), req.SessionID)
	if err != nil {
		log.Printf("relay: load session for identity key: %v", err)
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "failed to store identity key", err))
		return
	}
	if !ok {
		writeError(w, session.ErrNotFound)
		return
	}

	if err := a.store.UpsertIdentityKey(r.Context(), storage.IdentityKeyRecord{
		SessionID:     req.SessionID,
		ParticipantID: req.ParticipantID,
		PublicKey:     req.IdentityPublicKey,
	}); err != nil {
		log.Printf("relay: upsert identity key: %v", err)
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "failed to store identity key", err))
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// handleUpload stores a posted file under the uploads dir and returns
// the generated name. File contents are opaque to the relay.
func (a *app) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid upload", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, "file field is required", err))
		return
	}
	defer file.Close()

	name, err := a.newSessionID()
	if err != nil {
		log.Printf("relay: generate upload name: %v", err)
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "failed to store upload", err))
		return
	}
	if ext := sanitizeExtension(header.Filename); ext != "" {
		name += ext
	}

	if err := os.MkdirAll(a.uploadsDir, 0o755); err != nil {
		log.Printf("relay: create uploads dir: %v", err)
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "failed to store upload", err))
		return
	}
	dest, err := os.Create(filepath.Join(a.uploadsDir, name))
	if err != nil {
		log.Printf("relay: create upload file: %v", err)
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "failed to store upload", err))
		return
	}
	_, copyErr := io.Copy(dest, file)
	closeErr := dest.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dest.Name())
		log.Printf("relay: write upload: copy=%v close=%v", copyErr, closeErr)
		writeError(w, apperrors.New(apperrors.CodeUnknown, "failed to store upload"))
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{Filename: name})
}

// sanitizeExtension keeps a short, alphanumeric extension from a
// client-supplied filename and discards everything else.
func sanitizeExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
