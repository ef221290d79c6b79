// Purpose: Owns the pack/flow/secrets data model loaded from a task pack directory.
// Docs: docs/features/feature/flow-runtime/index.md

// types.go — Pack, flow, and step data model.
package packfile

// FieldType is the set of scalar types usable in input schemas and collectibles.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
)

// InputField describes one entry in a pack's input schema.
type InputField struct {
	Type        FieldType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Description string    `json:"description,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// Collectible declares one named, typed output value a flow may produce.
type Collectible struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"`
}

// SecretDecl declares a secret a pack expects to be present in .secrets.json.
type SecretDecl struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
}

// BrowserSettings configures the driver engine and persistence mode.
type BrowserSettings struct {
	Engine      string `json:"engine,omitempty"`      // default | stealth
	Persistence string `json:"persistence,omitempty"` // none | session | profile
}

// AuthConfig configures the auth resilience controller (spec.md §4.6).
type AuthConfig struct {
	Guard  *AuthGuardConfig  `json:"guard,omitempty"`
	Policy *AuthPolicyConfig `json:"policy,omitempty"`
}

// AuthGuardConfig is the proactive, off-by-default post-navigation check.
type AuthGuardConfig struct {
	Enabled          bool   `json:"enabled,omitempty"`
	Selector         string `json:"selector,omitempty"`
	URLIncludes      string `json:"urlIncludes,omitempty"`
	RecoveryStepFlow []Step `json:"recoveryFlow,omitempty"`
}

// AuthPolicyConfig is the reactive, on-by-default response watcher.
type AuthPolicyConfig struct {
	Enabled                   bool     `json:"enabled,omitempty"`
	URLIncludes               string   `json:"urlIncludes,omitempty"`
	URLRegex                  string   `json:"urlRegex,omitempty"`
	StatusCodes               []int    `json:"statusCodes,omitempty"`
	RecoveryFlow              []Step   `json:"recoveryFlow,omitempty"`
	MaxRecoveriesPerRun       int      `json:"maxRecoveriesPerRun,omitempty"`
	MaxStepRetryAfterRecovery int      `json:"maxStepRetryAfterRecovery,omitempty"`
	CooldownMs                int      `json:"cooldownMs,omitempty"`
}

// Manifest is the parsed contents of taskpack.json.
type Manifest struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	Description string           `json:"description,omitempty"`
	Kind        string           `json:"kind"`
	Browser     *BrowserSettings `json:"browser,omitempty"`
	Auth        *AuthConfig      `json:"auth,omitempty"`
	Secrets     []SecretDecl     `json:"secrets,omitempty"`
}

// FlowDoc is the parsed contents of flow.json.
type FlowDoc struct {
	Inputs       map[string]InputField `json:"inputs,omitempty"`
	Collectibles []Collectible         `json:"collectibles,omitempty"`
	Flow         []Step                `json:"flow"`
}

// Retry is the optional per-step retry policy.
type Retry struct {
	Times   int      `json:"times"`
	DelayMs int      `json:"delayMs"`
	OnlyOn  []string `json:"onlyOn,omitempty"`
}

// SkipIf is the recursive skip predicate tree (spec.md §4.3.1).
type SkipIf struct {
	URLIncludes    string    `json:"url_includes,omitempty"`
	URLMatches     string    `json:"url_matches,omitempty"`
	ElementVisible string    `json:"element_visible,omitempty"`
	ElementExists  string    `json:"element_exists,omitempty"`
	VarEquals      *VarEqual `json:"var_equals,omitempty"`
	VarTruthy      string    `json:"var_truthy,omitempty"`
	VarFalsy       string    `json:"var_falsy,omitempty"`
	All            []SkipIf  `json:"all,omitempty"`
	Any            []SkipIf  `json:"any,omitempty"`
}

// VarEqual is the payload of a var_equals leaf predicate.
type VarEqual struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Step is a single declarative flow action.
type Step struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Label   string         `json:"label,omitempty"`
	Once    bool           `json:"once,omitempty"`
	SkipIf  *SkipIf        `json:"skip_if,omitempty"`
	Retry   *Retry         `json:"retry,omitempty"`
	Params  map[string]any `json:"params"`
}

// Pack is a loaded, validated task pack: manifest + flow + secrets, rooted
// at the directory it was loaded from.
type Pack struct {
	Dir      string
	Manifest Manifest
	Flow     FlowDoc
	Secrets  map[string]string
}

// StepKind enumerates the recognized step types (spec.md §3 table).
const (
	KindNavigate       = "navigate"
	KindWaitFor        = "wait_for"
	KindClick          = "click"
	KindFill           = "fill"
	KindSelectOption   = "select_option"
	KindPressKey       = "press_key"
	KindUploadFile     = "upload_file"
	KindFrame          = "frame"
	KindNewTab         = "new_tab"
	KindSwitchTab      = "switch_tab"
	KindExtractTitle   = "extract_title"
	KindExtractText    = "extract_text"
	KindExtractAttr    = "extract_attribute"
	KindAssert         = "assert"
	KindSetVar         = "set_var"
	KindSleep          = "sleep"
	KindNetworkFind    = "network_find"
	KindNetworkReplay  = "network_replay"
	KindNetworkExtract = "network_extract"
)

// DOMCoupledKinds is the set of step kinds that require a live browser
// (spec.md §4.7 pre-flight compatibility check).
var DOMCoupledKinds = map[string]bool{
	KindNavigate:     true,
	KindClick:        true,
	KindFill:         true,
	KindWaitFor:      true,
	KindExtractText:  true,
	KindExtractAttr:  true,
	KindExtractTitle: true,
	KindAssert:       true,
	KindSelectOption: true,
	KindPressKey:     true,
	KindUploadFile:   true,
	KindFrame:        true,
	KindNewTab:       true,
	KindSwitchTab:    true,
	KindNetworkFind:  true,
}

// AllKinds is the full recognized step-kind set.
var AllKinds = map[string]bool{
	KindNavigate: true, KindWaitFor: true, KindClick: true, KindFill: true,
	KindSelectOption: true, KindPressKey: true, KindUploadFile: true,
	KindFrame: true, KindNewTab: true, KindSwitchTab: true,
	KindExtractTitle: true, KindExtractText: true, KindExtractAttr: true,
	KindAssert: true, KindSetVar: true, KindSleep: true,
	KindNetworkFind: true, KindNetworkReplay: true, KindNetworkExtract: true,
}
