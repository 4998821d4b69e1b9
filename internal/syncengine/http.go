package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/workouts"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the remote authority used when none is configured.
	DefaultBaseURL = "http://localhost:5000/api/"
	// DefaultTimeout bounds a single remote call.
	DefaultTimeout = 30 * time.Second

	workoutsPath        = "workouts"
	correlationHeader   = "X-Correlation-ID"
	maxErrorBodyBytes   = 4096
	contentTypeJSONBody = "application/json"
)

var errInvalidBaseURL = errors.New("syncengine: invalid base url")

// WorkoutPayload is the body of create and update requests.
type WorkoutPayload struct {
	ClientID  string              `json:"clientId"`
	Name      string              `json:"name"`
	Date      time.Time           `json:"date"`
	Exercises []workouts.Exercise `json:"exercises"`
	Notes     string              `json:"notes"`
	Duration  int                 `json:"duration"`
}

// NewWorkoutPayload projects a workout onto the remote request body.
func NewWorkoutPayload(workout workouts.Workout) WorkoutPayload {
	exercises := workout.Exercises
	if exercises == nil {
		exercises = []workouts.Exercise{}
	}
	return WorkoutPayload{
		ClientID:  workout.ID,
		Name:      workout.Name,
		Date:      workout.Date,
		Exercises: exercises,
		Notes:     workout.Notes,
		Duration:  workout.DurationMinutes,
	}
}

// HTTPRemoteConfig describes an HTTPRemote.
type HTTPRemoteConfig struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
	Logger  *zap.Logger
}

// HTTPRemote talks to the remote authority over JSON/HTTP with bearer auth.
type HTTPRemote struct {
	baseURL *url.URL
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPRemote constructs an HTTPRemote.
func NewHTTPRemote(cfg HTTPRemoteConfig) (*HTTPRemote, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", errInvalidBaseURL, cfg.BaseURL)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRemote{baseURL: base, client: client, logger: logger}, nil
}

// Create implements Remote.
func (r *HTTPRemote) Create(ctx context.Context, credential string, workout workouts.Workout) error {
	return r.send(ctx, http.MethodPost, credential, NewWorkoutPayload(workout), workoutsPath)
}

// Update implements Remote.
func (r *HTTPRemote) Update(ctx context.Context, credential string, workout workouts.Workout) error {
	return r.send(ctx, http.MethodPut, credential, NewWorkoutPayload(workout), workoutsPath, workout.ID)
}

// Delete implements Remote.
func (r *HTTPRemote) Delete(ctx context.Context, credential string, workoutID string) error {
	return r.send(ctx, http.MethodDelete, credential, nil, workoutsPath, workoutID)
}

func (r *HTTPRemote) send(ctx context.Context, method, credential string, payload any, segments ...string) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	target := r.baseURL.JoinPath(segments...)
	request, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	correlationID := uuid.NewString()
	request.Header.Set("Authorization", "Bearer "+credential)
	request.Header.Set(correlationHeader, correlationID)
	if payload != nil {
		request.Header.Set("Content-Type", contentTypeJSONBody)
	}

	started := time.Now()
	response, err := r.client.Do(request)
	if err != nil {
		r.logger.Warn("remote request failed",
			zap.String("method", method),
			zap.String("url", target.String()),
			zap.String("correlation_id", correlationID),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer response.Body.Close()

	r.logger.Debug("remote request completed",
		zap.String("method", method),
		zap.String("url", target.String()),
		zap.String("correlation_id", correlationID),
		zap.Int("status", response.StatusCode),
		zap.Duration("duration", time.Since(started)))

	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	return &RemoteError{StatusCode: response.StatusCode, Message: readErrorMessage(response.Body)}
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
