package indexer

import (
	"strings"

	"github.com/cperrin88/archdex/pkg/archive"
	"github.com/cperrin88/archdex/pkg/search"
)

// UnitDocument is one systemd unit file as stored in the services and
// timers indexes.
type UnitDocument struct {
	ID       string `json:"id"`
	Package  string `json:"package"`
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Repo     string `json:"repo"`
}

var idReplacer = strings.NewReplacer("@", "_", ".", "-")

// UnitID derives the document id of a unit: the package name, a dash, and
// the unit file name with '@' replaced by '_' and '.' by '-'. Index ids may
// only hold alphanumerics, '-' and '_'.
func UnitID(pkg, filename string) string {
	return pkg + "-" + idReplacer.Replace(filename)
}

// ScanFiles picks the systemd unit paths out of a files listing. Each
// trimmed line containing "systemd" and ending in .service or .timer goes
// into the matching set.
func ScanFiles(files string) (services, timers archive.TargetSet) {
	services = archive.NewTargetSet(search.IndexServices)
	timers = archive.NewTargetSet(search.IndexTimers)

	for _, line := range strings.Split(files, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "systemd") {
			continue
		}
		switch {
		case strings.HasSuffix(line, ".service"):
			services.Add(line)
		case strings.HasSuffix(line, ".timer"):
			timers.Add(line)
		}
	}
	return services, timers
}

func unitDocuments(repoName, pkg string, units []archive.Unit) []UnitDocument {
	docs := make([]UnitDocument, 0, len(units))
	for _, u := range units {
		docs = append(docs, UnitDocument{
			ID:       UnitID(pkg, u.Filename),
			Package:  pkg,
			Content:  string(u.Content),
			Filename: u.Filename,
			Repo:     repoName,
		})
	}
	return docs
}
