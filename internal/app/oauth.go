package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/semmidev/pgstash/internal/infrastructure/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// DriveAuth walks an operator through the Google OAuth consent screen and
// yields a token usable by the gdrive upload target.
type DriveAuth struct {
	config *oauth2.Config
	logger *logger.Logger
	state  string
	tokens chan *oauth2.Token
}

func NewDriveAuth(log *logger.Logger, clientSecretPath string) (*DriveAuth, error) {
	if clientSecretPath == "" {
		return nil, errors.New("client secret path cannot be empty")
	}

	b, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret: %w", err)
	}

	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}

	state := make([]byte, 16)
	if _, err := rand.Read(state); err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	return &DriveAuth{
		config: cfg,
		logger: log,
		state:  hex.EncodeToString(state),
		tokens: make(chan *oauth2.Token, 1),
	}, nil
}

func (s *DriveAuth) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/google/drive", func(w http.ResponseWriter, r *http.Request) {
		authURL := s.config.AuthCodeURL(s.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET /auth/google/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != s.state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		token, err := s.config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}
		if token.RefreshToken == "" {
			fmt.Fprintln(w, "⚠️ No refresh token returned. Revoke app access & re-authorize.")
			return
		}

		select {
		case s.tokens <- token:
		default:
		}
		fmt.Fprintln(w, "✅ Authorized. You can close this window.")
	})

	return mux
}

// Authorize serves the consent flow on addr until a token with a refresh
// token arrives or ctx is done.
func (s *DriveAuth) Authorize(ctx context.Context, addr string) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("OAuth server error: %v", err)
		}
	}()
	s.logger.Infof("Open http://%s/auth/google/drive to authorize Google Drive access", listener.Addr())

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnf("Failed to shutdown OAuth server: %v", err)
		}
	}()

	select {
	case token := <-s.tokens:
		return token, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CredentialsJSON renders token as an "authorized_user" credentials file,
// the format the gdrive target's credentials_file accepts.
func (s *DriveAuth) CredentialsJSON(token *oauth2.Token) ([]byte, error) {
	if token == nil || token.RefreshToken == "" {
		return nil, errors.New("token has no refresh token")
	}
	return json.MarshalIndent(map[string]string{
		"type":          "authorized_user",
		"client_id":     s.config.ClientID,
		"client_secret": s.config.ClientSecret,
		"refresh_token": token.RefreshToken,
	}, "", "  ")
}
