package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/waflowhq/waflow/internal/webhook"
)

type fakeIngestor struct {
	challenge string
	verifyErr error
	ingestErr error
	gotBody   []byte
	gotSig    string
}

func (f *fakeIngestor) VerifySubscription(_ context.Context, mode, token, challenge string) (string, error) {
	if f.verifyErr != nil {
		return "", f.verifyErr
	}
	return f.challenge, nil
}

func (f *fakeIngestor) Ingest(_ context.Context, body []byte, signature string) error {
	f.gotBody = body
	f.gotSig = signature
	return f.ingestErr
}

func TestVerifyEchoesChallenge(t *testing.T) {
	t.Parallel()

	h := newWebhookHandler(nil, &fakeIngestor{challenge: "12345"})
	e := echo.New()
	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.verify_token", "verify-me")
	q.Set("hub.challenge", "12345")
	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?"+q.Encode(), nil)
	rec := httptest.NewRecorder()

	if err := h.Verify(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "12345" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestVerifyDeniedIsForbidden(t *testing.T) {
	t.Parallel()

	h := newWebhookHandler(nil, &fakeIngestor{verifyErr: webhook.ErrVerifyDenied})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp", nil)
	rec := httptest.NewRecorder()

	if err := h.Verify(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestReceiveAcksDelivery(t *testing.T) {
	t.Parallel()

	ingestor := &fakeIngestor{}
	h := newWebhookHandler(nil, ingestor)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(`{"entry":[]}`))
	req.Header.Set("X-Hub-Signature-256", "sha256=abc")
	rec := httptest.NewRecorder()

	if err := h.Receive(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "EVENT_RECEIVED" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	if string(ingestor.gotBody) != `{"entry":[]}` || ingestor.gotSig != "sha256=abc" {
		t.Fatalf("ingestor got body=%q sig=%q", ingestor.gotBody, ingestor.gotSig)
	}
}

func TestReceiveBadSignatureIsForbidden(t *testing.T) {
	t.Parallel()

	h := newWebhookHandler(nil, &fakeIngestor{ingestErr: webhook.ErrBadSignature})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	if err := h.Receive(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestReceiveMalformedBodyStillAcks(t *testing.T) {
	t.Parallel()

	h := newWebhookHandler(nil, &fakeIngestor{ingestErr: webhook.ErrMalformedPayload})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()

	if err := h.Receive(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "EVENT_RECEIVED" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestReceiveProcessingFaultStillAcks(t *testing.T) {
	t.Parallel()

	h := newWebhookHandler(nil, &fakeIngestor{ingestErr: errors.New("db unavailable")})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	if err := h.Receive(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "EVENT_RECEIVED" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}
