package user

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"

	"github.com/Seann-Moser/linkguard/session"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// SignupHook runs after a user is created and before the session is issued.
type SignupHook func(ctx context.Context, u *User) error

// Server handles signup and sign in for tenant owners.
type Server struct {
	store    Store
	sessions *session.Client
	onSignup SignupHook
	log      *slog.Logger
}

type ServerOption func(*Server)

// WithSignupHook sets a hook run for every new user, e.g. to open a trial.
// A failing hook is logged; the user stays registered.
func WithSignupHook(h SignupHook) ServerOption {
	return func(s *Server) { s.onSignup = h }
}

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a new Server instance.
func NewServer(store Store, sessions *session.Client, opts ...ServerOption) *Server {
	s := &Server{
		store:    store,
		sessions: sessions,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes mounts the public account routes.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/signup", s.RegisterHandler).Methods(http.MethodPost)
	r.HandleFunc("/signin", s.LoginPasswordHandler).Methods(http.MethodPost)
	r.HandleFunc("/signout", s.LogoutHandler).Methods(http.MethodPost)
}

// writeJSON helper sends a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError helper sends a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// RegisterRequest represents the request body for user registration.
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	SignupFlow string `json:"signup_flow"`
}

// LoginRequest represents the request body for password sign in.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Password must:
//   - be 8–64 characters long
//   - include at least one lowercase letter
//   - include at least one uppercase letter
//   - include at least one digit
var (
	lowerRegex = regexp.MustCompile(`[a-z]`)
	upperRegex = regexp.MustCompile(`[A-Z]`)
	digitRegex = regexp.MustCompile(`\d`)
)

// ValidatePassword returns an error if the password doesn't meet policy.
func ValidatePassword(pw string) error {
	if len(pw) < 8 || len(pw) > 64 {
		return errors.New("password must be 8–64 characters long")
	}
	if !lowerRegex.MatchString(pw) {
		return errors.New("password must include at least one lowercase letter")
	}
	if !upperRegex.MatchString(pw) {
		return errors.New("password must include at least one uppercase letter")
	}
	if !digitRegex.MatchString(pw) {
		return errors.New("password must include at least one digit")
	}
	return nil
}

// ValidateEmail accepts a bare address only.
func ValidateEmail(email string) error {
	a, err := mail.ParseAddress(email)
	if err != nil || a.Address != email {
		return errors.New("email must be a valid address")
	}
	return nil
}

// signupFlow maps the requested flow onto a stored value. An empty flow is FREE.
func signupFlow(s string) (string, error) {
	switch s {
	case "", SignupFree:
		return SignupFree, nil
	case SignupPaidTrial:
		return SignupPaidTrial, nil
	}
	return "", errors.New("signup_flow must be FREE or PAID_TRIAL")
}

// RegisterHandler handles new user registration and signs the user in.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := ValidateEmail(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flow, err := signupFlow(req.SignupFlow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.log.ErrorContext(r.Context(), "hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	u := &User{
		Email:        req.Email,
		PasswordHash: hashedPassword,
		SignupFlow:   flow,
	}
	err = s.store.CreateUser(r.Context(), u)
	if errors.Is(err, ErrEmailTaken) {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	if err != nil {
		s.log.ErrorContext(r.Context(), "create user", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	if s.onSignup != nil {
		if err := s.onSignup(r.Context(), u); err != nil {
			s.log.ErrorContext(r.Context(), "signup hook failed", "user_id", u.ID, "tenant_id", u.TenantID, "error", err)
		}
	}

	if _, err := s.sessions.SignIn(w, r, u.UserID(), u.TenantID); err != nil {
		s.log.ErrorContext(r.Context(), "issue session", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to set session")
		return
	}
	s.log.InfoContext(r.Context(), "user registered", "user_id", u.ID, "tenant_id", u.TenantID, "signup_flow", flow)
	writeJSON(w, http.StatusCreated, u)
}

// LoginPasswordHandler handles sign in with email and password.
func (s *Server) LoginPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	u, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		s.log.ErrorContext(r.Context(), "lookup user", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if _, err := s.sessions.SignIn(w, r, u.UserID(), u.TenantID); err != nil {
		s.log.ErrorContext(r.Context(), "issue session", "user_id", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to set session")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// LogoutHandler clears the session cookie.
func (s *Server) LogoutHandler(w http.ResponseWriter, _ *http.Request) {
	s.sessions.SignOut(w)
	w.WriteHeader(http.StatusNoContent)
}
