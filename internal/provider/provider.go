// internal/provider/provider.go
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starforge/hyperdrive/internal/core"
)

// Type identifies a backend kind. Values are stable and ordered; equal
// selection scores break ties by ascending Type for determinism.
type Type int

const (
	TypeDefault Type = iota
	TypeMemory
	TypeLocalFile
	TypeBadgerDB
	TypeRedis
	TypeMongoDB
	TypePostgreSQL
	TypeS3
	TypeIPFS
	TypeHolochain
	TypeEthereum
	TypeSolana
	TypeArweave
)

var typeNames = map[Type]string{
	TypeDefault:    "Default",
	TypeMemory:     "Memory",
	TypeLocalFile:  "LocalFile",
	TypeBadgerDB:   "BadgerDB",
	TypeRedis:      "Redis",
	TypeMongoDB:    "MongoDB",
	TypePostgreSQL: "PostgreSQL",
	TypeS3:         "S3",
	TypeIPFS:       "IPFS",
	TypeHolochain:  "Holochain",
	TypeEthereum:   "Ethereum",
	TypeSolana:     "Solana",
	TypeArweave:    "Arweave",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType resolves a config-facing name to a Type.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeDefault, fmt.Errorf("unknown provider type %q", name)
}

// Category is the capability set of a backend, OR-ed together. The
// dispatcher matches operations on capability, never on concrete type.
type Category uint8

const (
	CategoryStorage Category = 1 << iota
	CategoryNetwork
	CategoryBlockchain
	CategorySmartContract
	CategoryNFT
)

// Has reports whether all bits of c are present.
func (cat Category) Has(c Category) bool {
	return cat&c == c
}

// ParseCategories folds config-facing names into a Category bitmask.
func ParseCategories(names []string) (Category, error) {
	var cat Category
	for _, name := range names {
		switch name {
		case "storage":
			cat |= CategoryStorage
		case "network":
			cat |= CategoryNetwork
		case "blockchain":
			cat |= CategoryBlockchain
		case "smartContract":
			cat |= CategorySmartContract
		case "nft":
			cat |= CategoryNFT
		default:
			return 0, fmt.Errorf("unknown provider category %q", name)
		}
	}
	return cat, nil
}

// Health is the runtime state of a registered provider.
type Health int

const (
	HealthActive Health = iota
	HealthDegraded
	HealthUnreachable
	HealthDeactivated
)

func (h Health) String() string {
	switch h {
	case HealthActive:
		return "active"
	case HealthDegraded:
		return "degraded"
	case HealthUnreachable:
		return "unreachable"
	case HealthDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// Provider is the fixed operation contract every backend adapter
// implements. Every method returns a Result envelope; adapters must catch
// their own client errors and never panic across this boundary.
type Provider interface {
	Type() Type
	Categories() Category

	ActivateProvider(ctx context.Context) *core.Result[bool]
	DeactivateProvider(ctx context.Context) *core.Result[bool]

	LoadEntity(ctx context.Context, id uuid.UUID) *core.Result[core.Entity]
	SaveEntity(ctx context.Context, entity core.Entity) *core.Result[core.Entity]
	DeleteEntity(ctx context.Context, id uuid.UUID, softDelete bool) *core.Result[bool]
	Search(ctx context.Context, query core.SearchQuery) *core.Result[core.SearchResults]
}

// Signals are the raw per-dimension inputs to the scoring engine. Cost and
// gas come from configuration; the rest accumulate from observed outcomes.
type Signals struct {
	CostPerOp          float64
	GasFee             float64
	LatencyMS          float64 // exponential moving average
	SuccessRatio       float64 // decays on failure, recovers on success
	SecurityRating     float64
	GeographicAffinity float64
	Uptime             float64
}

// Descriptor is the registry's runtime record for one backend.
type Descriptor struct {
	Type                Type
	Categories          Category
	Score               float64
	Health              Health
	LastError           error
	ConsecutiveFailures int
	Signals             Signals
	RegisteredAt        time.Time
}

// Free reports whether operations on this backend cost nothing.
func (d Descriptor) Free() bool {
	return d.Signals.CostPerOp == 0 && d.Signals.GasFee == 0
}
