package model

import "time"

// Status enumerates lifecycle states shared by executions, steps, and
// provider runs.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDataFrozen Status = "DATA_FROZEN"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Source identifies where a molecular data value came from.
type Source string

const (
	SourceUser         Source = "USER"
	SourceTest         Source = "TEST"
	SourceAmbit        Source = "AMBIT"
	SourceProtox       Source = "PROTOX"
	SourceDrugbility   Source = "DRUGBILITY"
	SourceGaussian     Source = "GAUSSIAN"
	SourceExperimental Source = "EXPERIMENTAL"
	SourceOther        Source = "OTHER"
)

// NativeType tags the native representation of a serialized data value.
type NativeType string

const (
	NativeFloat   NativeType = "FLOAT"
	NativeInteger NativeType = "INTEGER"
	NativeBoolean NativeType = "BOOLEAN"
	NativeString  NativeType = "STRING"
	NativeList    NativeType = "LIST"
	NativeDict    NativeType = "DICT"
)

// Workflow event types. The event log is append-only; these tags are the
// only values the engine itself writes, but the column is free-form.
const (
	EventFork                 = "FORK"
	EventStepCompleted        = "STEP_COMPLETED"
	EventStepFailed           = "STEP_FAILED"
	EventDataSelectionChanged = "DATA_SELECTION_CHANGED"
	EventAutoFork             = "AUTO_FORK"
	EventExecBranchCreated    = "EXEC_BRANCH_CREATED"
	EventRewind               = "REWIND"
)

// JSONMap is a free-form JSON object payload (event details, step results,
// execution metrics). Values must be JSON-marshalable.
type JSONMap map[string]any

// FamilyDataConfig maps family id -> data type name -> retrieval method.
// It is the declarative record of how each family's properties are obtained.
type FamilyDataConfig map[string]map[string]string

// Clone returns a deep copy. The zero map clones to an empty, usable config.
func (c FamilyDataConfig) Clone() FamilyDataConfig {
	out := make(FamilyDataConfig, len(c))
	for fam, m := range c {
		inner := make(map[string]string, len(m))
		for k, v := range m {
			inner[k] = v
		}
		out[fam] = inner
	}
	return out
}

// FamilySnapshot is the frozen family composition captured at step start:
// family id -> molecule inchikey -> {"id": molecule row id}. It records
// membership only; value immutability comes from freezing the data records
// themselves.
type FamilySnapshot map[string]map[string]MoleculeRef

// MoleculeRef pins a molecule row inside a snapshot.
type MoleculeRef struct {
	ID int64 `json:"id"`
}

// Molecule is the central chemical entity. SMILES, InChI, and InChIKey are
// unique; all three are NFC-normalized before persistence.
type Molecule struct {
	ID         int64
	SMILES     string
	InChI      string
	InChIKey   string
	CommonName string
	CreatedAt  time.Time
}

// MolecularFamily groups molecules for joint processing.
type MolecularFamily struct {
	ID          int64
	FamilyID    string
	Name        string
	Description string
	CreatedAt   time.Time
}

// DataRecord is one typed, provenance-tagged property value attached to a
// molecule. Records are append-only history: superseded variants are never
// deleted by the engine. Once frozen a record is immutable.
type DataRecord struct {
	ID                  string // UUID
	MoleculeID          int64
	TypeName            string // registered concrete data type, e.g. "LogPData"
	ValuePayload        string // serialized value, interpretation owned by the type
	NativeType          NativeType
	Source              Source
	SourceName          string
	SourceVersion       string
	PropertyName        string
	ProviderExecutionID *int64
	UserTag             string
	ConfidenceScore     float64
	IsApproved          bool
	IsFrozen            bool
	FrozenAt            *time.Time
	FrozenBy            string
	RetrievalConfig     JSONMap
	CreatedAt           time.Time
}

// DataSelection marks which record is the active variant for one
// (execution, branch, molecule, property) tuple. The record reference is a
// tagged union: type name + record id, resolved through the type registry.
type DataSelection struct {
	ID                  int64
	ExecutionID         string
	BranchID            string
	MoleculeID          int64
	PropertyName        string
	DataTypeName        string
	DataRecordID        string
	ProviderExecutionID *int64
	SelectedAt          time.Time
	SelectedBy          string
}

// StepExecution is the immutable snapshot of one workflow step run. The
// input fields are written once at step start and never change; results are
// written once on completion or failure.
type StepExecution struct {
	ID                   int64
	ExecutionID          string
	StepID               string
	StepName             string
	Order                int
	InputDataSnapshot    FamilySnapshot
	DataRetrievalMethods FamilyDataConfig
	Results              JSONMap
	Status               Status
	StartedAt            *time.Time
	CompletedAt          *time.Time
	DataFrozenAt         *time.Time
	InputSignature       string
	InputProperties      []string
	ProvidersUsed        []int64
}

// WorkflowBranch is a named divergence point for data-variant selection.
// Branches form a tree via ParentBranchID; preferences are copied (with
// optional overrides) at fork time.
type WorkflowBranch struct {
	BranchID       string
	Name           string
	Description    string
	BlueprintKey   string
	ParentBranchID string // empty for root branches
	BranchReason   string
	Preferences    JSONMap
	IsActive       bool
	CreatedAt      time.Time
}

// WorkflowBlueprint is the logical flow definition, itself forkable into
// blueprint variants. BranchOf/RootBranch are set once at creation.
type WorkflowBlueprint struct {
	Key         string
	Name        string
	Description string
	Status      Status
	BranchOf    string // parent blueprint key, empty for roots
	RootBranch  string // transitively resolved root key, empty for roots
	BranchLabel string
	FrozenAt    *time.Time
	FrozenBy    string
	CreatedAt   time.Time
}

// Root returns the key of the blueprint tree root.
func (b *WorkflowBlueprint) Root() string {
	if b.RootBranch != "" {
		return b.RootBranch
	}
	return b.Key
}

// WorkflowExecution is one concrete run of a blueprint over molecule
// families, bound to exactly one branch. Forking always produces a new
// execution; the original is never mutated by a fork.
type WorkflowExecution struct {
	ExecutionID       string
	Name              string
	Description       string
	BlueprintKey      string
	BranchID          string
	FamilyDataConfig  FamilyDataConfig
	Status            Status
	CurrentStep       string // last completed step id
	CurrentStepIndex  int    // cursor: next order to run
	ParentExecutionID string
	BranchLabel       string
	ExecutionResults  JSONMap
	ExecutionMetrics  JSONMap
	CreatedAt         time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
}

// WorkflowEvent is one append-only audit log entry. Events are never updated
// or deleted and are totally ordered by creation time within an execution.
type WorkflowEvent struct {
	ID          int64
	ExecutionID string
	EventType   string
	Details     JSONMap
	CreatedAt   time.Time
}

// ProviderKind distinguishes the two provider families.
type ProviderKind string

const (
	ProviderKindMoleculeSet   ProviderKind = "MOLECULE_SET"
	ProviderKindPropertiesSet ProviderKind = "PROPERTIES_SET"
)

// ProviderExecution tracks a single run of a molecule-set or properties-set
// provider. Data records link back to the run that produced them.
type ProviderExecution struct {
	ID           int64
	ProviderName string
	ProviderKind ProviderKind
	Version      string
	Parameters   JSONMap
	Status       Status
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}
