package cameras

import (
	"fmt"

	"script2video-pipeline/types"
)

// Forest is the validated camera forest: an arena of Camera records plus a
// children adjacency map built once, so lookups never re-scan the flat list.
type Forest struct {
	cams     []types.Camera
	byIdx    map[int]int
	children map[int][]int
}

// NewForest validates the camera records and builds the forest. Out-of-range
// parent references, parents whose shot is not in the parent camera,
// self-parents and parent cycles are all rejected here: left undetected they
// would make the frame scheduler wait forever on a signal that never fires.
func NewForest(cams []types.Camera) (*Forest, error) {
	f := &Forest{
		cams:     cams,
		byIdx:    make(map[int]int, len(cams)),
		children: make(map[int][]int),
	}
	for i, cam := range cams {
		if len(cam.ActiveShotIdxs) == 0 {
			return nil, fmt.Errorf("camera %d has no shots", cam.Idx)
		}
		if _, dup := f.byIdx[cam.Idx]; dup {
			return nil, fmt.Errorf("duplicate camera idx %d", cam.Idx)
		}
		f.byIdx[cam.Idx] = i
	}

	for _, cam := range cams {
		if (cam.ParentCamIdx == nil) != (cam.ParentShotIdx == nil) {
			return nil, fmt.Errorf("camera %d has a partial parent link", cam.Idx)
		}
		if cam.ParentCamIdx == nil {
			continue
		}
		if *cam.ParentCamIdx == cam.Idx {
			return nil, fmt.Errorf("camera %d is its own parent", cam.Idx)
		}
		pi, ok := f.byIdx[*cam.ParentCamIdx]
		if !ok {
			return nil, fmt.Errorf("camera %d references unknown parent camera %d", cam.Idx, *cam.ParentCamIdx)
		}
		parent := f.cams[pi]
		if !containsInt(parent.ActiveShotIdxs, *cam.ParentShotIdx) {
			return nil, fmt.Errorf("camera %d references shot %d which is not in parent camera %d", cam.Idx, *cam.ParentShotIdx, parent.Idx)
		}
		f.children[*cam.ParentCamIdx] = append(f.children[*cam.ParentCamIdx], cam.Idx)
	}

	// walk parent chains; any chain longer than the camera count is a cycle
	for _, cam := range cams {
		steps := 0
		for cur := &cam; cur.ParentCamIdx != nil; {
			steps++
			if steps > len(cams) {
				return nil, fmt.Errorf("camera %d is part of a parent cycle", cam.Idx)
			}
			cur = &f.cams[f.byIdx[*cur.ParentCamIdx]]
		}
	}
	return f, nil
}

// Cameras returns the arena in declaration order.
func (f *Forest) Cameras() []types.Camera { return f.cams }

// Camera returns the record for a camera idx.
func (f *Forest) Camera(idx int) (*types.Camera, bool) {
	i, ok := f.byIdx[idx]
	if !ok {
		return nil, false
	}
	return &f.cams[i], true
}

// Children returns the camera idxs that continue from the given camera.
func (f *Forest) Children(idx int) []int { return f.children[idx] }

// PriorityShotSet returns the shots whose first frames anchor some other
// camera. Cameras with parent links block on exactly these shots, so
// resolving them first minimizes end-to-end latency.
func (f *Forest) PriorityShotSet() map[int]bool {
	set := make(map[int]bool)
	for _, cam := range f.cams {
		if cam.ParentShotIdx != nil {
			set[*cam.ParentShotIdx] = true
		}
	}
	return set
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
