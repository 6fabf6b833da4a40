// Package engine wraps the external numerical tools (registration, image
// calculator, mesh tool, geodesic shooting) behind narrow typed interfaces.
// The adapters own all argument construction; callers describe an invocation
// with a request struct and never assemble command strings themselves, so
// every external call can be mocked in tests.
package engine

import "github.com/hippocamp/thickpipe/template"

// AffineRequest describes an affine alignment of Moving onto Fixed. The
// output is a plain-text 4x4 matrix at Out (.mat).
type AffineRequest struct {
	Fixed  string
	Moving string
	Mask   string // optional fixed-space mask restricting the metric
	Out    string

	// MomentsInit seeds the solver with a moments-of-inertia initializer;
	// otherwise the identity is used.
	MomentsInit bool

	Threads int
}

// DeformableRequest describes a diffeomorphic registration of Moving onto
// Fixed, restricted to Mask, composed after InitAffine. The output is a
// deformation field at Out (.nii.gz).
type DeformableRequest struct {
	Fixed      string
	Moving     string
	Mask       string
	InitAffine string
	Out        string

	Threads int
}

// ResliceRequest carries Moving through an ordered transform list into the
// Reference grid. Transforms is the chain rendered by chain.Args; order is
// exactly the application order, inverse flags included.
type ResliceRequest struct {
	Reference  string
	Moving     string
	Out        string
	Transforms []string

	// Label selects nearest-boundary label interpolation instead of linear.
	Label bool

	Threads int
}

// WarpPointsRequest carries a plain-text landmark point list through an
// ordered transform list.
type WarpPointsRequest struct {
	Points     string
	Out        string
	Reference  string
	Transforms []string
}

// Registration is the affine/deformable registration and reslicing engine.
type Registration interface {
	Affine(req AffineRequest) error
	Deformable(req DeformableRequest) error
	Reslice(req ResliceRequest) error
	WarpPoints(req WarpPointsRequest) error
}

// UnionMaskRequest builds the union of binary label masks, optionally
// dilated.
type UnionMaskRequest struct {
	Inputs       []string
	DilateVoxels int
	Out          string
}

// BinarizeRequest extracts the given labels from a segmentation into a
// binary mask.
type BinarizeRequest struct {
	In     string
	Labels []int
	Out    string
}

// VoteRequest fuses per-label probability maps into a discrete segmentation
// by majority vote. Inputs[i] is the probability map for Labels[i]; voxels
// won by no input get the background label.
type VoteRequest struct {
	Inputs     []string
	Labels     []int
	Background int
	Out        string
}

// DistanceMapRequest computes a signed distance transform of a binary mask.
type DistanceMapRequest struct {
	Mask string
	Out  string
}

// DistanceVoteRequest fuses voxelized region masks into one multi-label
// segmentation with a closest-boundary-wins vote over their signed distance
// maps. Background is masked out before the vote and multiplied back in
// afterward via ForegroundMask.
type DistanceVoteRequest struct {
	DistanceMaps   []string
	Labels         []int
	ForegroundMask string
	Out            string
}

// ImageMath is the image-calculator tool: mask algebra, votes, distance
// transforms.
type ImageMath interface {
	UnionMask(req UnionMaskRequest) error
	Binarize(req BinarizeRequest) error
	Vote(req VoteRequest) error
	DistanceMap(req DistanceMapRequest) error
	DistanceVote(req DistanceVoteRequest) error
}

// VoxelizeRequest rasterizes a region boundary mesh onto the Reference
// image's grid as a binary mask.
type VoxelizeRequest struct {
	Mesh      string
	Reference string
	Out       string
}

// DumpAttributesRequest extracts named per-vertex data arrays from a mesh
// into a CSV at Out, one row per vertex, one column per field.
type DumpAttributesRequest struct {
	Mesh   string
	Fields []string
	Out    string
}

// TransformMeshRequest applies an affine matrix (optionally inverted) to a
// mesh's vertex coordinates.
type TransformMeshRequest struct {
	Mesh   string
	Affine string
	Invert bool
	Out    string
}

// MeshTool rasterizes, transforms and inspects meshes.
type MeshTool interface {
	Voxelize(req VoxelizeRequest) error
	TransformMesh(req TransformMeshRequest) error
	DumpAttributes(req DumpAttributesRequest) error
}

// MomentaRequest fits a momenta field carrying TemplatePoints onto
// TargetPoints by geodesic shooting. This is the single most expensive step
// in the pipeline and its integrator is not parallelized; implementations
// must pin it to one thread regardless of the run's thread grant.
type MomentaRequest struct {
	TemplatePoints string
	TargetPoints   string
	Out            string

	Params template.ShootingParams
}

// ApplyMomentaRequest integrates a fitted momenta field to carry Mesh into
// the target space.
type ApplyMomentaRequest struct {
	Momenta string
	Mesh    string
	Out     string

	TimeSteps int
}

// Shooting is the geodesic shooting engine.
type Shooting interface {
	ComputeMomenta(req MomentaRequest) error
	ApplyMomenta(req ApplyMomentaRequest) error
}

// Engines bundles the four tool adapters a run needs.
type Engines struct {
	Reg   Registration
	Img   ImageMath
	Mesh  MeshTool
	Shoot Shooting
}
