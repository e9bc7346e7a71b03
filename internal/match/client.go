package match

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourname/runmatch/pkg/types"
)

// MatchService is the external service owning match records.
type MatchService interface {
	Create(ctx context.Context, memberIDs []string, d types.RunningDistance) error
	SetMemberStatus(ctx context.Context, id string, active bool) error
}

type correlationKey struct{}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

type HTTPMatchService struct {
	baseURL string
	client  *http.Client
}

func NewHTTPMatchService(baseURL string, timeout time.Duration) *HTTPMatchService {
	return &HTTPMatchService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPMatchService) Create(ctx context.Context, memberIDs []string, d types.RunningDistance) error {
	return s.post(ctx, "/match", types.MatchCreateRequest{MemberIDs: memberIDs, Distance: d})
}

func (s *HTTPMatchService) SetMemberStatus(ctx context.Context, id string, active bool) error {
	return s.post(ctx, "/match/members/"+url.PathEscape(id)+"/status", types.MemberStatusRequest{Active: active})
}

func (s *HTTPMatchService) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := CorrelationID(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// LogMatchService only logs; used when no match service is configured.
type LogMatchService struct {
	Logger *zap.Logger
}

func (s LogMatchService) Create(ctx context.Context, memberIDs []string, d types.RunningDistance) error {
	s.log().Info("match create (no match service configured)",
		zap.String("match", CorrelationID(ctx)),
		zap.Strings("users", memberIDs),
		zap.String("distance", string(d)),
	)
	return nil
}

func (s LogMatchService) SetMemberStatus(_ context.Context, id string, active bool) error {
	s.log().Info("member status (no match service configured)", zap.String("user", id), zap.Bool("active", active))
	return nil
}

func (s LogMatchService) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
