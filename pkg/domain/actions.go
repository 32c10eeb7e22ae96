package domain

// Action is a mutation applied to exactly one entity in context during a save
// operation. Actions run in list order before the bulk blob and property
// writes. The set of concrete action types is closed: the processor matches
// exhaustively and treats anything else as an invalid action.
type Action interface {
	action()
}

// LinkAction links the entity in context to Target under Name. With IsSet all
// existing links under Name are removed first, leaving exactly one.
type LinkAction struct {
	Name   string
	Target Ref
	IsSet  bool
}

// OppositeLinkAction links Source to the entity in context under Name and the
// entity back to Source under OppositeName. With IsSet the source's previous
// target under Name is unlinked in both directions first.
type OppositeLinkAction struct {
	Name         string
	OppositeName string
	Source       Ref
	IsSet        bool
}

// LinkRemoveAction deletes the named link from the entity in context.
type LinkRemoveAction struct {
	Name string
}

// OppositeLinkRemoveAction deletes the named link pair in both directions,
// but only for link partners whose reciprocal link is actually consistent.
type OppositeLinkRemoveAction struct {
	Name         string
	OppositeName string
	OtherType    string
}

// LinkNewEntityAction builds and persists a brand-new entity from the nested
// payload through the full save pipeline, then links it under Name.
type LinkNewEntityAction struct {
	Name   string
	Entity *Entity
	IsSet  bool
}

// BlobRenameAction renames a blob literally.
type BlobRenameAction struct {
	From string
	To   string
}

// BlobRenameRegexAction renames every blob whose name fully matches Pattern,
// applying Replacement with capture group expansion.
type BlobRenameRegexAction struct {
	Pattern     string
	Replacement string
}

// BlobRemoveAction deletes each named blob.
type BlobRemoveAction struct {
	Names []string
}

// PropertyCopyAction copies the named property from the first (or last)
// member of the current scope onto the entity in context. An empty scope is a
// no-op.
type PropertyCopyAction struct {
	Name  string
	First bool
}

// PropertyIndexAction enforces uniqueness of the entity's pending value for
// Name across all entities of the type before the write is allowed.
type PropertyIndexAction struct {
	Name string
}

// PropertyRemoveAction deletes the named property.
type PropertyRemoveAction struct {
	Name string
}

// CustomAction is the open extension point for arbitrary mutations against
// the live entity handle.
type CustomAction struct {
	Name  string
	Apply func(e EntityHandle) error
}

func (LinkAction) action()               {}
func (OppositeLinkAction) action()       {}
func (LinkRemoveAction) action()         {}
func (OppositeLinkRemoveAction) action() {}
func (LinkNewEntityAction) action()      {}
func (BlobRenameAction) action()         {}
func (BlobRenameRegexAction) action()    {}
func (BlobRemoveAction) action()         {}
func (PropertyCopyAction) action()       {}
func (PropertyIndexAction) action()      {}
func (PropertyRemoveAction) action()     {}
func (CustomAction) action()             {}
