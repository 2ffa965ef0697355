package scanner

// FileReport lists the detections in one file.
type FileReport struct {
	Path       string
	Detections []Detection
}

// Report aggregates a scan. Every detection belongs to exactly one file and
// one type, so Total equals the sum over Files and the sum over ByType.
type Report struct {
	FilesScanned int
	Files        []FileReport
	ByType       map[string]int
	Warnings     []Warning
}

func newReport() *Report {
	return &Report{ByType: make(map[string]int)}
}

func (r *Report) add(path string, detections []Detection) {
	r.FilesScanned++
	if len(detections) == 0 {
		return
	}
	r.Files = append(r.Files, FileReport{Path: path, Detections: detections})
	for _, d := range detections {
		r.ByType[d.Type]++
	}
}

// Total returns the number of detections.
func (r *Report) Total() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Detections)
	}
	return n
}

// Detections flattens the report in file then offset order.
func (r *Report) Detections() []Detection {
	out := make([]Detection, 0, r.Total())
	for _, f := range r.Files {
		out = append(out, f.Detections...)
	}
	return out
}

// Collisions groups detections that resolve to the same subpath and key.
// Later writes to such a key overwrite earlier ones.
func (r *Report) Collisions() map[string][]Detection {
	seen := make(map[string][]Detection)
	for _, d := range r.Detections() {
		id := d.Subpath + ":" + d.Key
		seen[id] = append(seen[id], d)
	}
	for id, ds := range seen {
		if len(ds) < 2 {
			delete(seen, id)
		}
	}
	return seen
}
