package remote

// Bucket is a logical container in the remote content store.
type Bucket struct {
	BucketKey   string `json:"bucketKey"`
	PolicyKey   string `json:"policyKey,omitempty"`
	CreatedDate int64  `json:"createdDate,omitempty"`
}

// Object is an item stored within a bucket.
type Object struct {
	BucketKey string `json:"bucketKey"`
	ObjectKey string `json:"objectKey"`
	ObjectID  string `json:"objectId"`
	SHA1      string `json:"sha1,omitempty"`
	Size      int64  `json:"size"`
	Location  string `json:"location,omitempty"`
}

// ResumableRange is a byte interval already accepted by the remote store
// for an upload session. Ranges arrive ordered ascending by Start and
// non-overlapping; they are never computed locally.
type ResumableRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// JobSpec describes the requested conversion output.
type JobSpec struct {
	OutputType string   `json:"type"`
	Views      []string `json:"views"`
}

// Manifest is the conversion job's output description: overall job state
// plus the derivative tree.
type Manifest struct {
	Type        string       `json:"type,omitempty"`
	URN         string       `json:"urn,omitempty"`
	Status      string       `json:"status"`
	Progress    string       `json:"progress"`
	Region      string       `json:"region,omitempty"`
	Derivatives []Derivative `json:"derivatives"`
}

// Derivative is one output format produced by a conversion job.
type Derivative struct {
	Name       string         `json:"name,omitempty"`
	OutputType string         `json:"outputType"`
	Status     string         `json:"status,omitempty"`
	Progress   string         `json:"progress,omitempty"`
	Children   []ManifestNode `json:"children,omitempty"`
}

// ManifestNode is a typed node in the derivative tree. Type distinguishes
// geometry nodes from resources; Role identifies renderable graphics
// ("graphics", "pdf-page") versus metadata-only children. Nodes with a URN
// reference a downloadable asset.
type ManifestNode struct {
	GUID     string         `json:"guid"`
	Type     string         `json:"type"`
	Role     string         `json:"role,omitempty"`
	Name     string         `json:"name,omitempty"`
	URN      string         `json:"urn,omitempty"`
	MIME     string         `json:"mime,omitempty"`
	Children []ManifestNode `json:"children,omitempty"`
}

const (
	NodeTypeGeometry = "geometry"

	RoleGraphics = "graphics"
	RolePDFPage  = "pdf-page"
)

// Job statuses reported by the conversion service.
const (
	StatusPending    = "pending"
	StatusInProgress = "inprogress"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusTimeout    = "timeout"
)

// FindDerivative returns the derivative with the given output type, or nil.
func (m *Manifest) FindDerivative(outputType string) *Derivative {
	for i := range m.Derivatives {
		if m.Derivatives[i].OutputType == outputType {
			return &m.Derivatives[i]
		}
	}
	return nil
}

// GeometryChildren returns the derivative's geometry-typed children in
// manifest order.
func (d *Derivative) GeometryChildren() []ManifestNode {
	var out []ManifestNode
	for _, child := range d.Children {
		if child.Type == NodeTypeGeometry {
			out = append(out, child)
		}
	}
	return out
}

// FindViewable returns the node's first child whose role marks renderable
// output, or nil.
func (n *ManifestNode) FindViewable() *ManifestNode {
	for i := range n.Children {
		if n.Children[i].Role == RoleGraphics || n.Children[i].Role == RolePDFPage {
			return &n.Children[i]
		}
	}
	return nil
}

// Walk visits the node and all descendants depth-first.
func (n *ManifestNode) Walk(visit func(node *ManifestNode)) {
	visit(n)
	for i := range n.Children {
		n.Children[i].Walk(visit)
	}
}
