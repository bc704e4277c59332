package moderation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"fair/internal/model"
)

// Catalog is what submission checks read to validate references.
type Catalog interface {
	GetStreet(ctx context.Context, id uuid.UUID) (*model.Street, error)
	StreetByCode(ctx context.Context, code string) (*model.Street, error)
	GetPavilion(ctx context.Context, id uuid.UUID) (*model.Pavilion, error)
}

// Approver is the kind-specific half of a request: what a valid payload
// looks like and which entities approval creates.
type Approver interface {
	// Check normalizes and validates the payload at submission time.
	Check(ctx context.Context, catalog Catalog, p *model.Payload) error
	// Materialize creates the dependent entities inside tx and returns the id
	// linked back to the request.
	Materialize(ctx context.Context, tx model.RequestTx, r *model.Request) (uuid.UUID, error)
}

var streetCodeRe = regexp.MustCompile(`^[a-z0-9_]*[a-z][a-z0-9_]*$`)

func required(field, value string) error {
	if value == "" {
		return &model.ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// streetApprover creates a street and its first pavilion.
type streetApprover struct{}

func (streetApprover) Check(ctx context.Context, catalog Catalog, p *model.Payload) error {
	p.StreetName = strings.TrimSpace(p.StreetName)
	p.StreetCode = strings.TrimSpace(p.StreetCode)
	p.PavilionTitle = strings.TrimSpace(p.PavilionTitle)
	p.PavilionDescription = strings.TrimSpace(p.PavilionDescription)

	if err := firstErr(
		required("street_name", p.StreetName),
		required("street_code", p.StreetCode),
	); err != nil {
		return err
	}
	if !streetCodeRe.MatchString(p.StreetCode) {
		return &model.ValidationError{Field: "street_code", Reason: "use lowercase latin letters, digits and underscores"}
	}
	if _, err := catalog.StreetByCode(ctx, p.StreetCode); err == nil {
		return &model.ValidationError{Field: "street_code", Reason: "street code is already taken"}
	} else if !model.IsNotFound(err) {
		return err
	}
	return required("pavilion_title", p.PavilionTitle)
}

func (streetApprover) Materialize(ctx context.Context, tx model.RequestTx, r *model.Request) (uuid.UUID, error) {
	street := &model.Street{Name: r.Payload.StreetName, Code: r.Payload.StreetCode}
	if err := tx.CreateStreet(ctx, street); err != nil {
		return uuid.Nil, err
	}
	pav := &model.Pavilion{
		StreetID:    street.ID,
		Title:       r.Payload.PavilionTitle,
		Description: r.Payload.PavilionDescription,
	}
	if err := tx.CreatePavilion(ctx, pav); err != nil {
		return uuid.Nil, err
	}
	return street.ID, nil
}

// pavilionApprover creates a pavilion on an existing street together with
// its first listing, owned by the requester.
type pavilionApprover struct{}

func (pavilionApprover) Check(ctx context.Context, catalog Catalog, p *model.Payload) error {
	p.PavilionTitle = strings.TrimSpace(p.PavilionTitle)
	p.PavilionDescription = strings.TrimSpace(p.PavilionDescription)
	p.ListingTitle = strings.TrimSpace(p.ListingTitle)
	p.ListingText = strings.TrimSpace(p.ListingText)

	if p.StreetID == nil {
		return &model.ValidationError{Field: "street_id", Reason: "is required"}
	}
	if _, err := catalog.GetStreet(ctx, *p.StreetID); err != nil {
		return err
	}
	return firstErr(
		required("pavilion_title", p.PavilionTitle),
		required("listing_title", p.ListingTitle),
		required("listing_text", p.ListingText),
	)
}

func (pavilionApprover) Materialize(ctx context.Context, tx model.RequestTx, r *model.Request) (uuid.UUID, error) {
	if r.Payload.StreetID == nil {
		return uuid.Nil, &model.ValidationError{Field: "street_id", Reason: "is required"}
	}
	if _, err := tx.GetStreet(ctx, *r.Payload.StreetID); err != nil {
		return uuid.Nil, err
	}
	owner, err := tx.GetUser(ctx, r.RequesterID)
	if err != nil {
		return uuid.Nil, err
	}
	pav := &model.Pavilion{
		StreetID:    *r.Payload.StreetID,
		Title:       r.Payload.PavilionTitle,
		Description: r.Payload.PavilionDescription,
	}
	if err := tx.CreatePavilion(ctx, pav); err != nil {
		return uuid.Nil, err
	}
	if _, err := createListing(ctx, tx, pav.ID, owner, r.Payload); err != nil {
		return uuid.Nil, err
	}
	return pav.ID, nil
}

// adApprover publishes a listing in an existing pavilion.
type adApprover struct{}

func (adApprover) Check(ctx context.Context, catalog Catalog, p *model.Payload) error {
	p.ListingTitle = strings.TrimSpace(p.ListingTitle)
	p.ListingText = strings.TrimSpace(p.ListingText)

	if p.PavilionID == nil {
		return &model.ValidationError{Field: "pavilion_id", Reason: "is required"}
	}
	if _, err := catalog.GetPavilion(ctx, *p.PavilionID); err != nil {
		return err
	}
	return firstErr(
		required("listing_title", p.ListingTitle),
		required("listing_text", p.ListingText),
	)
}

func (adApprover) Materialize(ctx context.Context, tx model.RequestTx, r *model.Request) (uuid.UUID, error) {
	if r.Payload.PavilionID == nil {
		return uuid.Nil, &model.ValidationError{Field: "pavilion_id", Reason: "is required"}
	}
	if _, err := tx.GetPavilion(ctx, *r.Payload.PavilionID); err != nil {
		return uuid.Nil, err
	}
	owner, err := tx.GetUser(ctx, r.RequesterID)
	if err != nil {
		return uuid.Nil, err
	}
	return createListing(ctx, tx, *r.Payload.PavilionID, owner, r.Payload)
}

func createListing(ctx context.Context, tx model.RequestTx, pavilionID uuid.UUID, owner *model.User, p model.Payload) (uuid.UUID, error) {
	ownerID := owner.ID
	l := &model.Listing{
		PavilionID: pavilionID,
		OwnerID:    &ownerID,
		Title:      p.ListingTitle,
		Text:       p.ListingText,
		AuthorName: owner.Username,
	}
	if err := tx.CreateListing(ctx, l); err != nil {
		return uuid.Nil, err
	}
	return l.ID, nil
}

// Processor dispatches approval side effects to the approver registered for
// the request's kind.
type Processor struct {
	approvers map[model.Kind]Approver
}

func NewProcessor() *Processor {
	return &Processor{approvers: map[model.Kind]Approver{
		model.KindStreet:   streetApprover{},
		model.KindPavilion: pavilionApprover{},
		model.KindAd:       adApprover{},
	}}
}

func (p *Processor) approver(kind model.Kind) (Approver, error) {
	a, ok := p.approvers[kind]
	if !ok {
		return nil, &model.ValidationError{Field: "kind", Reason: fmt.Sprintf("no approver for %q", kind)}
	}
	return a, nil
}

// Check validates a payload for the given kind.
func (p *Processor) Check(ctx context.Context, catalog Catalog, kind model.Kind, payload *model.Payload) error {
	a, err := p.approver(kind)
	if err != nil {
		return err
	}
	return a.Check(ctx, catalog, payload)
}

// Materialize runs the approval side effects of r inside tx and records the
// resulting link on r.
func (p *Processor) Materialize(ctx context.Context, tx model.RequestTx, r *model.Request) error {
	a, err := p.approver(r.Kind)
	if err != nil {
		return err
	}
	link, err := a.Materialize(ctx, tx, r)
	if err != nil {
		return err
	}
	r.ResultLinkID = &link
	return nil
}
