// Package template loads the statistical shape template directory: the
// ordered atlas population with group memberships, and the per-template
// configuration (region labels, label-merge rules for evaluation, geodesic
// shooting hyperparameters). Everything here is loaded once at startup and
// treated as read-only for the run's duration; the template directory itself
// is shared read-only across concurrent subject runs.
package template

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/carbocation/pfx"
)

// A Label maps a region name to its integer segmentation ID within the
// template's label convention.
type Label struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// A RegionGroup is a label-merge rule for evaluation: the named group is the
// union of its member labels, binarized before overlap scoring.
type RegionGroup struct {
	Name   string `json:"name"`
	Labels []int  `json:"labels"`
}

// ShootingParams are the geodesic shooting hyperparameters fitted with this
// template; they are not tunable per subject.
type ShootingParams struct {
	Sigma      float64 `json:"sigma"`
	Weight     float64 `json:"weight"`
	TimeSteps  int     `json:"time_steps"`
	Iterations int     `json:"iterations"`
}

// Config is the per-template configuration, parsed from template.json in the
// template directory.
type Config struct {
	ConfigPath string `json:"-"`
	Dir        string `json:"-"`

	Labels          []Label        `json:"labels"`
	RegionGroups    []RegionGroup  `json:"region_groups"`
	BackgroundLabel int            `json:"background_label"`
	Shooting        ShootingParams `json:"shooting"`

	Atlases []Atlas `json:"-"`
}

// Load reads template.json and atlases.tsv from the template directory and
// validates their contents. Any defect here is a configuration error: fatal,
// reported before any stage is attempted.
func Load(dir string) (Config, error) {
	out := Config{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, "template.json"),
	}

	f, err := os.Open(out.ConfigPath)
	if err != nil {
		return out, pfx.Err(err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&out); err != nil {
		if e, ok := err.(*json.SyntaxError); ok {
			log.Printf("syntax error at byte offset %d", e.Offset)
		}

		return out, pfx.Err(err)
	}

	if len(out.Labels) == 0 {
		return out, pfx.Err(fmt.Errorf("%s: template defines no labels", out.ConfigPath))
	}
	if len(out.RegionGroups) == 0 {
		return out, pfx.Err(fmt.Errorf("%s: template defines no region groups", out.ConfigPath))
	}
	for _, g := range out.RegionGroups {
		if len(g.Labels) == 0 {
			return out, pfx.Err(fmt.Errorf("%s: region group %q has no member labels", out.ConfigPath, g.Name))
		}
	}
	if out.Shooting.TimeSteps < 1 || out.Shooting.Iterations < 1 {
		return out, pfx.Err(fmt.Errorf("%s: shooting time_steps and iterations must be at least 1", out.ConfigPath))
	}

	out.Atlases, err = LoadAtlases(filepath.Join(dir, "atlases.tsv"))
	if err != nil {
		return out, err
	}

	return out, nil
}

// RegionNames returns the region group names in their configured order; the
// report's column layout is derived from this.
func (c Config) RegionNames() []string {
	out := make([]string, 0, len(c.RegionGroups))
	for _, g := range c.RegionGroups {
		out = append(out, g.Name)
	}

	return out
}

// AtlasDir is where an atlas's precomputed template-space data lives.
func (c Config) AtlasDir(id string) string {
	return filepath.Join(c.Dir, "atlas", id)
}

// AtlasSeg is the atlas's own discrete segmentation for one side.
func (c Config) AtlasSeg(id, side string) string {
	return filepath.Join(c.AtlasDir(id), side+"_seg.nii.gz")
}

// AtlasProbMap is the atlas's probability map for one label on one side,
// resliced during similarity scoring.
func (c Config) AtlasProbMap(id, side string, label int) string {
	return filepath.Join(c.AtlasDir(id), fmt.Sprintf("%s_prob%02d.nii.gz", side, label))
}

// AtlasRootChain is the atlas's precomputed transform chain back to its
// group's template root.
func (c Config) AtlasRootChain(id, side string) string {
	return filepath.Join(c.AtlasDir(id), side+"_chain_to_root.txt")
}

// GroupDir holds one fitted variant template.
func (c Config) GroupDir(group int) string {
	return filepath.Join(c.Dir, fmt.Sprintf("group%02d", group))
}

// UnifiedDir holds the single common-coordinate template used for pointwise
// cross-subject comparison.
func (c Config) UnifiedDir() string {
	return filepath.Join(c.Dir, "unified")
}

// RootLandmarks is the fixed landmark mesh in a template's space; dir is a
// GroupDir or the UnifiedDir.
func (c Config) RootLandmarks(dir, side string) string {
	return filepath.Join(dir, side+"_landmarks.vtk")
}

// RootImage is a template's reference image for one side.
func (c Config) RootImage(dir, side string) string {
	return filepath.Join(dir, side+"_root.nii.gz")
}

// RegionMesh is one region's boundary mesh in a template's space.
func (c Config) RegionMesh(dir, side string, label int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_region%02d.vtk", side, label))
}

// ThicknessMesh is a template's mesh carrying the fitted thickness field.
func (c Config) ThicknessMesh(dir, side string) string {
	return filepath.Join(dir, side+"_thickness.vtk")
}

// GroupToUnifiedChain is the precomputed chain carrying a variant template
// root into the unified template's space.
func (c Config) GroupToUnifiedChain(group int, side string) string {
	return filepath.Join(c.GroupDir(group), side+"_chain_to_unified.txt")
}
