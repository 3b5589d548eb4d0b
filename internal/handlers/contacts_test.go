package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/waflowhq/waflow/internal/contact"
)

type fakeTagger struct {
	contact   contact.Contact
	tagErr    error
	gotTenant string
	gotID     string
	gotTag    string
	untagged  bool
}

func (f *fakeTagger) Tag(_ context.Context, tenantID, contactID, tag string) (contact.Contact, error) {
	f.gotTenant, f.gotID, f.gotTag = tenantID, contactID, tag
	return f.contact, f.tagErr
}

func (f *fakeTagger) Untag(_ context.Context, tenantID, contactID, tag string) (contact.Contact, error) {
	f.gotTenant, f.gotID, f.gotTag = tenantID, contactID, tag
	f.untagged = true
	return f.contact, f.tagErr
}

func TestTagContact(t *testing.T) {
	t.Parallel()

	tagger := &fakeTagger{contact: contact.Contact{ID: "ct-1", Tags: []string{"vip"}}}
	h := newContactsHandler(nil, tagger)
	c, rec := newAccountContext(t, http.MethodPost, "/api/contacts/ct-1/tags", `{"tag":"vip"}`)
	c.SetParamNames("id")
	c.SetParamValues("ct-1")

	if err := h.Tag(c); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if tagger.gotTenant != "b7c2d7f0-56fb-4a1d-9f2d-9a4a5cbe0001" || tagger.gotID != "ct-1" || tagger.gotTag != "vip" {
		t.Fatalf("store got (%q, %q, %q)", tagger.gotTenant, tagger.gotID, tagger.gotTag)
	}
	var resp contact.Contact
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.Tags) != 1 || resp.Tags[0] != "vip" {
		t.Fatalf("tags = %v, want [vip]", resp.Tags)
	}
}

func TestTagContactRejectsEmptyTag(t *testing.T) {
	t.Parallel()

	h := newContactsHandler(nil, &fakeTagger{})
	c, rec := newAccountContext(t, http.MethodPost, "/api/contacts/ct-1/tags", `{"tag":""}`)
	c.SetParamNames("id")
	c.SetParamValues("ct-1")

	if err := h.Tag(c); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTagUnknownContact(t *testing.T) {
	t.Parallel()

	h := newContactsHandler(nil, &fakeTagger{tagErr: contact.ErrNotFound})
	c, rec := newAccountContext(t, http.MethodPost, "/api/contacts/ct-404/tags", `{"tag":"vip"}`)
	c.SetParamNames("id")
	c.SetParamValues("ct-404")

	if err := h.Tag(c); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Code != CodeContactNotFound {
		t.Fatalf("code = %q, want %q", resp.Code, CodeContactNotFound)
	}
}

func TestUntagContact(t *testing.T) {
	t.Parallel()

	tagger := &fakeTagger{contact: contact.Contact{ID: "ct-1"}}
	h := newContactsHandler(nil, tagger)
	c, rec := newAccountContext(t, http.MethodDelete, "/api/contacts/ct-1/tags/vip", "")
	c.SetParamNames("id", "tag")
	c.SetParamValues("ct-1", "vip")

	if err := h.Untag(c); err != nil {
		t.Fatalf("Untag: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !tagger.untagged || tagger.gotTag != "vip" {
		t.Fatalf("untagged=%v tag=%q", tagger.untagged, tagger.gotTag)
	}
}
