package signup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// SubscriberCreator is implemented by Provider.
type SubscriberCreator interface {
	CreateSubscriber(ctx context.Context, req SubscriberRequest) (*Subscriber, error)
}

// Server is the signup proxy: it validates the request, shapes the
// subscriber payload, and forwards it to the provider with the server-side
// credentials so they never reach the app.
type Server struct {
	provider SubscriberCreator
	logger   *logrus.Logger
}

func NewServer(provider SubscriberCreator, logger *logrus.Logger) *Server {
	return &Server{provider: provider, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

type signupRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithField("request_id", uuid.NewString())

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if req.Email == "" || req.Password == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Email and password are required"})
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 72 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Password must be between 8 and 72 characters"})
		return
	}

	payload := SubscriberRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	switch {
	case req.FirstName != "" && req.LastName != "":
		payload.DisplayName = req.FirstName + " " + req.LastName
	case req.FirstName != "":
		payload.DisplayName = req.FirstName
	}

	log.WithField("email", req.Email).Info("creating subscriber")

	sub, err := s.provider.CreateSubscriber(r.Context(), payload)
	if err != nil {
		var provErr *ProviderError
		if errors.As(err, &provErr) {
			log.WithError(err).Error("provider rejected subscriber")
			if provErr.Status == http.StatusUnprocessableEntity && len(provErr.Errors) > 0 {
				respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": provErr.Errors})
				return
			}
			msg := provErr.Message
			if msg == "" {
				msg = "Failed to create subscriber"
			}
			respondJSON(w, provErr.Status, map[string]string{"error": msg})
			return
		}
		log.WithError(err).Error("provider call failed")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	log.WithField("id", sub.ID).Info("subscriber created")
	respondJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
