package core

import (
	"fmt"
	"regexp"

	"entitycore/internal/engine"
	"entitycore/pkg/domain"
)

// applyActions dispatches every action of the save request in list order
// against the entity in context. The action set is closed; an unknown kind is
// a hard failure, never a silent no-op.
func (p *pipeline) applyActions(actions []domain.Action, scopeRef *engine.Ref, ec *entityCtx, pending *domain.PropertyMap) error {
	for _, act := range actions {
		if err := p.applyAction(act, scopeRef, ec, pending); err != nil {
			return err
		}
	}
	return nil
}

func (p *pipeline) applyAction(act domain.Action, scopeRef *engine.Ref, ec *entityCtx, pending *domain.PropertyMap) error {
	tx := p.tx
	switch a := act.(type) {
	case domain.LinkAction:
		target, err := p.resolveRef(a.Target)
		if err != nil {
			return err
		}
		return setOrAddLink(tx, ec.ID(), a.Name, target, a.IsSet)
	case domain.OppositeLinkAction:
		return p.applyOppositeLink(a, ec)
	case domain.LinkRemoveAction:
		return tx.DeleteLink(ec.ID(), a.Name)
	case domain.OppositeLinkRemoveAction:
		return p.applyOppositeLinkRemove(a, ec)
	case domain.LinkNewEntityAction:
		if a.Entity == nil {
			return fmt.Errorf("%w: link-new-entity carries no entity", domain.ErrInvalidAction)
		}
		// The nested entity runs through the full save pipeline, so nested
		// graphs of arbitrary depth persist in one call.
		nested, err := p.saveOne(a.Entity)
		if err != nil {
			return err
		}
		return setOrAddLink(tx, ec.ID(), a.Name, nested, a.IsSet)
	case domain.BlobRenameAction:
		return tx.RenameBlob(ec.ID(), a.From, a.To)
	case domain.BlobRenameRegexAction:
		return p.applyBlobRenameRegex(a, ec)
	case domain.BlobRemoveAction:
		for _, name := range a.Names {
			if err := tx.DeleteBlob(ec.ID(), name); err != nil {
				return err
			}
		}
		return nil
	case domain.PropertyCopyAction:
		return p.applyPropertyCopy(a, scopeRef, ec)
	case domain.PropertyIndexAction:
		return p.applyPropertyIndex(a, ec, pending)
	case domain.PropertyRemoveAction:
		return ec.DeleteProperty(a.Name)
	case domain.CustomAction:
		if a.Apply == nil {
			return fmt.Errorf("%w: custom action %q has no mutator", domain.ErrInvalidAction, a.Name)
		}
		return a.Apply(ec)
	default:
		return fmt.Errorf("%w: unknown action %T", domain.ErrInvalidAction, act)
	}
}

// resolveRef resolves an action target to a live entity id.
func (p *pipeline) resolveRef(ref domain.Ref) (domain.ID, error) {
	if ref.ID == "" {
		return "", fmt.Errorf("%w: action target carries no id", domain.ErrInvalidRequest)
	}
	if !p.tx.Exists(ref.ID) {
		return "", domain.ErrNotFound{Type: ref.Type, ID: ref.ID}
	}
	return ref.ID, nil
}

// setOrAddLink applies the isSet contract: set clears the name first so
// exactly one target remains; add keeps existing targets.
func setOrAddLink(tx *engine.Txn, id domain.ID, name string, target domain.ID, isSet bool) error {
	if isSet {
		if err := tx.DeleteLink(id, name); err != nil {
			return err
		}
	}
	return tx.AddLink(id, name, target)
}

func (p *pipeline) applyOppositeLink(a domain.OppositeLinkAction, ec *entityCtx) error {
	tx := p.tx
	source, err := p.resolveRef(a.Source)
	if err != nil {
		return err
	}
	if a.IsSet {
		// Unlink the source's previous target in both directions before
		// setting the pair fresh.
		for _, prev := range tx.Links(source, a.Name) {
			if err := tx.DeleteLinkTarget(source, a.Name, prev); err != nil {
				return err
			}
			if err := tx.DeleteLinkTarget(prev, a.OppositeName, source); err != nil {
				return err
			}
		}
	}
	if err := tx.AddLink(source, a.Name, ec.ID()); err != nil {
		return err
	}
	return tx.AddLink(ec.ID(), a.OppositeName, source)
}

// applyOppositeLinkRemove unlinks only partners whose reciprocal link is
// actually consistent: the partner must hold the opposite link back at the
// entity in context, and match the type constraint when one is given.
func (p *pipeline) applyOppositeLinkRemove(a domain.OppositeLinkRemoveAction, ec *entityCtx) error {
	tx := p.tx
	for _, partner := range ec.Links(a.Name) {
		if a.OtherType != "" {
			typ, ok := tx.TypeOf(partner)
			if !ok || typ != a.OtherType {
				continue
			}
		}
		reciprocal := false
		for _, back := range tx.Links(partner, a.OppositeName) {
			if back == ec.ID() {
				reciprocal = true
				break
			}
		}
		if !reciprocal {
			continue
		}
		if err := tx.DeleteLinkTarget(ec.ID(), a.Name, partner); err != nil {
			return err
		}
		if err := tx.DeleteLinkTarget(partner, a.OppositeName, ec.ID()); err != nil {
			return err
		}
	}
	return nil
}

func (p *pipeline) applyBlobRenameRegex(a domain.BlobRenameRegexAction, ec *entityCtx) error {
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return fmt.Errorf("%w: blob rename pattern %q: %v", domain.ErrInvalidAction, a.Pattern, err)
	}
	for _, name := range p.tx.BlobNames(ec.ID()) {
		loc := re.FindStringIndex(name)
		if loc == nil || loc[0] != 0 || loc[1] != len(name) {
			continue // full matches only
		}
		to := re.ReplaceAllString(name, a.Replacement)
		if to == name {
			continue
		}
		if err := p.tx.RenameBlob(ec.ID(), name, to); err != nil {
			return err
		}
	}
	return nil
}

// applyPropertyCopy reads the property from the first or last member of the
// current scope, intersected with all-of-type, and copies it onto the entity
// in context. An empty scope is a no-op.
func (p *pipeline) applyPropertyCopy(a domain.PropertyCopyAction, scopeRef *engine.Ref, ec *entityCtx) error {
	scope := scopeRef.Get().Intersect(p.tx.AllOfType(ec.Type()))
	var (
		member domain.ID
		ok     bool
	)
	if a.First {
		member, ok = scope.First()
	} else {
		member, ok = scope.Last()
	}
	if !ok {
		return nil
	}
	v, ok := p.tx.Property(member, a.Name)
	if !ok {
		return nil
	}
	return ec.SetProperty(a.Name, v)
}

// applyPropertyIndex enforces uniqueness of the pending value across the type
// before the bulk write lands. The pending value comes from the request's
// property map when present, otherwise from the entity's current state.
func (p *pipeline) applyPropertyIndex(a domain.PropertyIndexAction, ec *entityCtx, pending *domain.PropertyMap) error {
	var (
		value any
		ok    bool
	)
	if pending != nil {
		value, ok = pending.Get(a.Name)
	}
	if !ok || value == nil {
		value, ok = ec.Property(a.Name)
	}
	if !ok || value == nil {
		return nil
	}
	for _, other := range p.tx.FindByProperty(ec.Type(), a.Name, value).IDs() {
		if other != ec.ID() {
			return &domain.UniqueConstraintError{Property: a.Name, Value: value}
		}
	}
	ec.markIndexed(a.Name)
	return nil
}
