package types

// VariationType classifies how much a shot's composition changes over its
// duration. Small variation shots are driven by a single first frame; medium
// and large shots need a last frame to bound the generated motion.
type VariationType string

const (
	VariationSmall  VariationType = "small"
	VariationMedium VariationType = "medium"
	VariationLarge  VariationType = "large"
)

// NeedsLastFrame reports whether a shot with this variation requires a last
// frame before its video can be generated.
func (v VariationType) NeedsLastFrame() bool {
	return v == VariationMedium || v == VariationLarge
}

// FrameType identifies one of the two frames a shot can own.
type FrameType string

const (
	FirstFrame FrameType = "first_frame"
	LastFrame  FrameType = "last_frame"
)

// PortraitView names one of the three canonical portrait angles.
const (
	ViewFront = "front"
	ViewSide  = "side"
	ViewBack  = "back"
)

// Character is one character extracted from the script. Extracted once per
// run and immutable afterwards.
type Character struct {
	Idx               int    `json:"idx"`
	IdentifierInScene string `json:"identifier_in_scene"`
	Appearance        string `json:"appearance"`
	Role              string `json:"role"`
}

// PortraitItem is one generated portrait artifact with its caption.
type PortraitItem struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

// PortraitRegistry maps character identifier → view → portrait artifact.
// Once a character's three views exist, its entry is never regenerated,
// even across process restarts.
type PortraitRegistry map[string]map[string]PortraitItem

// ShotBriefDescription is one storyboard unit at a coarse level.
type ShotBriefDescription struct {
	Idx        int    `json:"idx"`
	Purpose    string `json:"purpose"`
	VisualIdea string `json:"visual_idea"`
}

// ShotDescription is the fully expanded form of a shot brief. Idx matches the
// brief and defines the shot's position in the final concatenation.
type ShotDescription struct {
	Idx           int           `json:"idx"`
	CamIdx        int           `json:"cam_idx"`
	VisualDesc    string        `json:"visual_desc"`
	MotionDesc    string        `json:"motion_desc"`
	AudioDesc     string        `json:"audio_desc"`
	FFDesc        string        `json:"ff_desc"`
	LFDesc        string        `json:"lf_desc"`
	FFVisCharIdxs []int         `json:"ff_vis_char_idxs"`
	LFVisCharIdxs []int         `json:"lf_vis_char_idxs"`
	VariationType VariationType `json:"variation_type"`
}

// Camera is one continuity track over consecutive shots. A camera may
// continue from another camera's last known state, in which case
// ParentCamIdx/ParentShotIdx are set and MissingInfo describes what the
// continuation still has to fabricate. Roots have no parent.
type Camera struct {
	Idx            int    `json:"idx"`
	ActiveShotIdxs []int  `json:"active_shot_idxs"`
	ParentCamIdx   *int   `json:"parent_cam_idx"`
	ParentShotIdx  *int   `json:"parent_shot_idx"`
	MissingInfo    string `json:"missing_info,omitempty"`
}

// AnchorShotIdx returns the shot whose first frame anchors this camera.
func (c *Camera) AnchorShotIdx() int {
	return c.ActiveShotIdxs[0]
}
