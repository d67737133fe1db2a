package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/helanludovic-commits/middleware-journea/internal/config"
	"github.com/helanludovic-commits/middleware-journea/internal/crm"
	"github.com/helanludovic-commits/middleware-journea/internal/identity"
	"github.com/helanludovic-commits/middleware-journea/internal/savestate"
	"github.com/helanludovic-commits/middleware-journea/internal/search"
	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

type webhookEngine interface {
	Handle(ctx context.Context, raw []byte) (identity.Result, error)
}

type documentRegistry interface {
	Open(ctx context.Context, docID string) (*savestate.Coordinator, error)
	Get(docID string) (*savestate.Coordinator, bool)
	Close(ctx context.Context, docID string) (savestate.Status, error)
	Len() int
}

type clientSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type crmWriter interface {
	UpdateOpportunityField(ctx context.Context, opportunityID, key, value string) error
	UpdateContactFields(ctx context.Context, contactID string, fields []crm.Field) error
}

type itineraryStore interface {
	Ping(ctx context.Context) error
	GetPerson(ctx context.Context, id string) (store.Person, error)
	GetItinerary(ctx context.Context, id string) (store.Itinerary, error)
	CreateItinerary(ctx context.Context, item store.Itinerary) (store.Itinerary, error)
}

type documentGauge interface {
	SetOpenDocuments(n int)
}

// Dependencies are the collaborators a Service routes requests to. Search,
// CRM and OpenDocuments may be nil.
type Dependencies struct {
	Store         itineraryStore
	Engine        webhookEngine
	Documents     documentRegistry
	Search        clientSearcher
	CRM           crmWriter
	OpenDocuments documentGauge
	Logger        *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     itineraryStore
	engine    webhookEngine
	documents documentRegistry
	search    clientSearcher
	crm       crmWriter
	gauge     documentGauge
	logger    *zap.Logger
}

func New(cfg config.Config, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		engine:    deps.Engine,
		documents: deps.Documents,
		search:    deps.Search,
		crm:       deps.CRM,
		gauge:     deps.OpenDocuments,
		logger:    logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) WebhookSecret() string {
	return s.cfg.WebhookSecret
}

// MaxBodyBytes bounds webhook and draft request bodies.
func (s *Service) MaxBodyBytes() int64 {
	if s.cfg.WebhookMaxBodyBytes <= 0 {
		return 1 << 20
	}
	return s.cfg.WebhookMaxBodyBytes
}

// HandleWebhook reconciles one CRM delivery. Only failures that redelivery
// can fix are returned; everything else is acknowledged with a message.
func (s *Service) HandleWebhook(ctx context.Context, raw []byte) (string, error) {
	result, err := s.engine.Handle(ctx, raw)
	switch {
	case errors.Is(err, identity.ErrMalformedEvent):
		s.logger.Warn("malformed webhook acknowledged", zap.Error(err))
		return "malformed payload, ignored", nil
	case errors.Is(err, identity.ErrNoIdentity):
		s.logger.Info("webhook without email acknowledged")
		return "missing email, ignored", nil
	case err != nil:
		return "", err
	}
	return fmt.Sprintf("webhook processed: %s", result.Outcome), nil
}

func (s *Service) SearchClients(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Client search is not configured", nil)
	}
	return s.search.Search(ctx, q), nil
}

type CreateItineraryInput struct {
	ID                    string `json:"id"`
	Title                 string `json:"title"`
	PersonID              string `json:"personId"`
	ExternalOpportunityID string `json:"externalOpportunityId"`
}

type ItineraryPayload struct {
	ID                    string          `json:"id"`
	Title                 string          `json:"title"`
	PersonID              string          `json:"personId,omitempty"`
	ExternalOpportunityID string          `json:"externalOpportunityId,omitempty"`
	Content               json.RawMessage `json:"content"`
	Revision              int64           `json:"revision"`
}

func itineraryPayload(item store.Itinerary) ItineraryPayload {
	return ItineraryPayload{
		ID:                    item.ID,
		Title:                 item.Title,
		PersonID:              item.PersonID,
		ExternalOpportunityID: item.ExternalOpportunityID,
		Content:               item.Content,
		Revision:              item.Revision,
	}
}

func (s *Service) CreateItinerary(ctx context.Context, input CreateItineraryInput) (ItineraryPayload, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return ItineraryPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	item, err := s.store.CreateItinerary(ctx, store.Itinerary{
		ID:                    strings.TrimSpace(input.ID),
		Title:                 title,
		PersonID:              strings.TrimSpace(input.PersonID),
		ExternalOpportunityID: strings.TrimSpace(input.ExternalOpportunityID),
	})
	if err != nil {
		return ItineraryPayload{}, err
	}
	return itineraryPayload(item), nil
}

// GetItinerary returns the itinerary with the editor's latest content, which
// may be ahead of what is stored.
func (s *Service) GetItinerary(ctx context.Context, id string) (ItineraryPayload, error) {
	item, err := s.store.GetItinerary(ctx, id)
	if err != nil {
		return ItineraryPayload{}, err
	}
	c, err := s.documents.Open(ctx, id)
	if err != nil {
		return ItineraryPayload{}, err
	}
	s.reportOpenDocuments()
	payload := itineraryPayload(item)
	payload.Content = c.Content()
	payload.Revision = c.Status().Revision
	return payload, nil
}

// SaveDraft applies an editor mutation. The content is buffered and flushed
// by the document's coordinator.
func (s *Service) SaveDraft(ctx context.Context, id string, content json.RawMessage) (savestate.Status, error) {
	if !json.Valid(content) {
		return savestate.Status{}, domainError(http.StatusBadRequest, "INVALID_BODY", "draft must be valid JSON", nil)
	}
	c, err := s.openDocument(ctx, id)
	if err != nil {
		return savestate.Status{}, err
	}
	return c.Mutate(content)
}

func (s *Service) SaveState(ctx context.Context, id string) (savestate.Status, error) {
	c, err := s.openDocument(ctx, id)
	if err != nil {
		return savestate.Status{}, err
	}
	return c.Status(), nil
}

// SaveNow flushes pending content immediately. It is also the manual retry
// after a failed save.
func (s *Service) SaveNow(ctx context.Context, id string) (savestate.Status, error) {
	c, err := s.openDocument(ctx, id)
	if err != nil {
		return savestate.Status{}, err
	}
	err = c.Flush(ctx)
	return c.Status(), err
}

// CloseDocument ends the editing session with a final flush.
func (s *Service) CloseDocument(ctx context.Context, id string) (savestate.Status, error) {
	st, err := s.documents.Close(ctx, id)
	s.reportOpenDocuments()
	if errors.Is(err, savestate.ErrNotFound) {
		return st, domainError(http.StatusNotFound, "NOT_OPEN", "Itinerary is not open", nil)
	}
	return st, err
}

// ShareItinerary writes the share URL onto the linked CRM opportunity.
func (s *Service) ShareItinerary(ctx context.Context, id, shareURL string) (map[string]any, error) {
	shareURL = strings.TrimSpace(shareURL)
	if shareURL == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "shareUrl is required", nil)
	}
	item, err := s.store.GetItinerary(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.ExternalOpportunityID == "" {
		return map[string]any{"ok": true, "synced": false, "reason": "no linked opportunity"}, nil
	}
	if s.crm == nil {
		return nil, domainError(http.StatusServiceUnavailable, "CRM_UNAVAILABLE", "CRM is not configured", nil)
	}
	if err := s.crm.UpdateOpportunityField(ctx, item.ExternalOpportunityID, s.cfg.CRMOpportunityLinkField, shareURL); err != nil {
		s.logger.Warn("share link back-sync failed",
			zap.String("itinerary_id", id),
			zap.String("opportunity_id", item.ExternalOpportunityID),
			zap.Error(err),
		)
		return nil, domainError(http.StatusBadGateway, "CRM_ERROR", "Could not update the CRM opportunity", nil)
	}
	return map[string]any{"ok": true, "synced": true, "opportunityId": item.ExternalOpportunityID}, nil
}

// Custom contact fields written by SyncItineraryToCRM.
const (
	fieldItineraryID    = "itinerary_id"
	fieldItineraryTitle = "itinerary_title"
	fieldPortalURL      = "client_portal_url"
)

// SyncItineraryToCRM pushes the itinerary's id, title and client portal link
// onto the CRM contact of the person it belongs to.
func (s *Service) SyncItineraryToCRM(ctx context.Context, id string) (map[string]any, error) {
	item, err := s.store.GetItinerary(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.PersonID == "" {
		return map[string]any{"ok": true, "synced": false, "reason": "no linked person"}, nil
	}
	person, err := s.store.GetPerson(ctx, item.PersonID)
	if err != nil {
		return nil, err
	}
	if person.ExternalContactID == "" {
		return map[string]any{"ok": true, "synced": false, "reason": "person has no CRM contact"}, nil
	}
	if s.crm == nil {
		return nil, domainError(http.StatusServiceUnavailable, "CRM_UNAVAILABLE", "CRM is not configured", nil)
	}

	fields := []crm.Field{
		{Key: fieldItineraryID, Value: item.ID},
		{Key: fieldItineraryTitle, Value: item.Title},
	}
	if s.cfg.PortalBaseURL != "" {
		fields = append(fields, crm.Field{Key: fieldPortalURL, Value: s.cfg.PortalBaseURL + "/client/" + url.PathEscape(item.ID)})
	}
	if err := s.crm.UpdateContactFields(ctx, person.ExternalContactID, fields); err != nil {
		s.logger.Warn("itinerary crm sync failed",
			zap.String("itinerary_id", id),
			zap.String("contact_id", person.ExternalContactID),
			zap.Error(err),
		)
		return nil, domainError(http.StatusBadGateway, "CRM_ERROR", "Could not update the CRM contact", nil)
	}
	return map[string]any{"ok": true, "synced": true, "contactId": person.ExternalContactID}, nil
}

func (s *Service) openDocument(ctx context.Context, id string) (*savestate.Coordinator, error) {
	if _, ok := s.documents.Get(id); !ok {
		if _, err := s.store.GetItinerary(ctx, id); err != nil {
			return nil, err
		}
	}
	c, err := s.documents.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	s.reportOpenDocuments()
	return c, nil
}

func (s *Service) reportOpenDocuments() {
	if s.gauge != nil {
		s.gauge.SetOpenDocuments(s.documents.Len())
	}
}
