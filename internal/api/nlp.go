package api

import (
	"net/http"

	"campusrelay/internal/alert"
)

// EmergencyRequest is the body of POST /api/nlp/detect-emergency.
type EmergencyRequest struct {
	ChatMessage     string `json:"chat_message" validate:"required,max=65536"`
	SenderUserID    string `json:"sender_user_id" validate:"max=64"`
	RecipientUserID string `json:"recipient_user_id" validate:"max=64"`
	CampusID        string `json:"campus_id" validate:"max=64"`
}

// EmergencyResponse reports a danger screening.
type EmergencyResponse struct {
	IsEmergency      bool     `json:"is_emergency"`
	Reason           string   `json:"reason"`
	OriginalMessage  string   `json:"original_message"`
	TriggeredActions []string `json:"triggered_actions"`
}

// MisconductRequest is the body of POST /api/nlp/detect-counselor-misconduct.
type MisconductRequest struct {
	ChatMessage string `json:"chat_message" validate:"required,max=65536"`
	CounselorID string `json:"counselor_id" validate:"max=64"`
	StudentID   string `json:"student_id" validate:"max=64"`
	CampusID    string `json:"campus_id" validate:"max=64"`
}

// MisconductResponse reports a misconduct screening.
type MisconductResponse struct {
	IsMisconduct     bool     `json:"is_misconduct"`
	MisconductType   *string  `json:"misconduct_type"`
	OriginalMessage  string   `json:"original_message"`
	TriggeredActions []string `json:"triggered_actions"`
}

func (s *Server) handleDetectEmergency(w http.ResponseWriter, r *http.Request) {
	var req EmergencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp := EmergencyResponse{
		Reason:           "No danger indicators.",
		OriginalMessage:  req.ChatMessage,
		TriggeredActions: []string{},
	}
	if match, ok := s.deps.Screener.DangerMatch(req.ChatMessage); ok {
		resp.IsEmergency = true
		resp.Reason = "Danger keywords/phrases detected."
		if s.deps.Alerter != nil {
			resp.TriggeredActions = s.deps.Alerter.Emergency(r.Context(), alert.Alert{
				SenderID:    req.SenderUserID,
				RecipientID: req.RecipientUserID,
				CampusID:    req.CampusID,
				Phrase:      match.Phrase,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDetectMisconduct(w http.ResponseWriter, r *http.Request) {
	var req MisconductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp := MisconductResponse{OriginalMessage: req.ChatMessage, TriggeredActions: []string{}}
	if match, ok := s.deps.Screener.MisconductMatch(req.ChatMessage); ok {
		kind := match.Label
		resp.IsMisconduct = true
		resp.MisconductType = &kind
		if s.deps.Alerter != nil {
			resp.TriggeredActions = s.deps.Alerter.Misconduct(r.Context(), alert.Alert{
				SenderID:    req.CounselorID,
				RecipientID: req.StudentID,
				CampusID:    req.CampusID,
				Kind:        kind,
				Phrase:      match.Phrase,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
