package httpapi

import (
	"errors"
	"net/http"
	"strings"
)

type voiceSummary struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Language string            `json:"language"`
	Labels   map[string]string `json:"labels,omitempty"`
}

type listVoicesResponse struct {
	DefaultVoiceID string         `json:"default_voice_id"`
	Recommended    []voiceSummary `json:"recommended"`
	Voices         []voiceSummary `json:"voices"`
}

// The neural voice catalog is static: the speech service exposes no
// listing endpoint on the deployment-scoped key the gateway holds.
var neuralVoices = []voiceSummary{
	{VoiceID: "en-US-AvaNeural", Name: "Ava (US, warm)", Language: "en-US", Labels: map[string]string{"gender": "female", "accent": "american"}},
	{VoiceID: "en-US-EmmaNeural", Name: "Emma (US, bright)", Language: "en-US", Labels: map[string]string{"gender": "female", "accent": "american"}},
	{VoiceID: "en-US-JennyNeural", Name: "Jenny (US, friendly)", Language: "en-US", Labels: map[string]string{"gender": "female", "accent": "american"}},
	{VoiceID: "en-US-AriaNeural", Name: "Aria (US, expressive)", Language: "en-US", Labels: map[string]string{"gender": "female", "accent": "american"}},
	{VoiceID: "en-US-GuyNeural", Name: "Guy (US, steady)", Language: "en-US", Labels: map[string]string{"gender": "male", "accent": "american"}},
	{VoiceID: "en-US-AndrewNeural", Name: "Andrew (US, casual)", Language: "en-US", Labels: map[string]string{"gender": "male", "accent": "american"}},
	{VoiceID: "en-GB-SoniaNeural", Name: "Sonia (UK, crisp)", Language: "en-GB", Labels: map[string]string{"gender": "female", "accent": "british"}},
	{VoiceID: "en-GB-RyanNeural", Name: "Ryan (UK, calm)", Language: "en-GB", Labels: map[string]string{"gender": "male", "accent": "british"}},
	{VoiceID: "it-IT-ElsaNeural", Name: "Elsa (IT, clear)", Language: "it-IT", Labels: map[string]string{"gender": "female", "accent": "italian"}},
	{VoiceID: "it-IT-DiegoNeural", Name: "Diego (IT, warm)", Language: "it-IT", Labels: map[string]string{"gender": "male", "accent": "italian"}},
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	language := strings.TrimSpace(r.URL.Query().Get("language"))

	voices := neuralVoices
	if language != "" {
		voices = make([]voiceSummary, 0, len(neuralVoices))
		for _, v := range neuralVoices {
			if strings.EqualFold(v.Language, language) {
				voices = append(voices, v)
			}
		}
	}

	recommended := make([]voiceSummary, 0, 3)
	for _, v := range voices {
		if len(recommended) == 3 {
			break
		}
		recommended = append(recommended, v)
	}

	respondJSON(w, http.StatusOK, listVoicesResponse{
		DefaultVoiceID: s.cfg.Voice,
		Recommended:    recommended,
		Voices:         voices,
	})
}

type previewTTSRequest struct {
	VoiceID  string `json:"voice_id"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	if s.gateway == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice gateway not configured")
		return
	}
	if strings.TrimSpace(s.cfg.SpeechAPIKey) == "" {
		respondError(w, http.StatusBadRequest, "missing_speech_key", "AURA_SPEECH_API_KEY is not set")
		return
	}

	var req previewTTSRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	wav, err := s.gateway.PreviewTTS(r.Context(), req.VoiceID, req.Language, req.Text)
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
