package roles

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"dbkeeper/internal/engine"
)

// Snapshot is an ordered capture of users/roles and their grants, taken
// separately from the main dump because the schema+data export intentionally
// strips ownership and privilege statements.
//
// The two statement lists back the strict restore ordering: role/user
// creation replays before the schema+data import, grant reattachment after
// it.
type Snapshot struct {
	Instance   string
	Engine     engine.Kind
	CapturedAt time.Time

	RoleStatements  []string
	GrantStatements []string
}

// Snapshot file section markers.
const (
	snapshotHeader  = "-- dbkeeper role snapshot"
	sectionRoles    = "-- section: roles"
	sectionGrants   = "-- section: grants"
	instancePrefix  = "-- instance: "
	enginePrefix    = "-- engine: "
	capturedPrefix  = "-- captured_at: "
	snapshotVersion = "-- format: 1"
)

// WriteFile persists the snapshot as plain SQL with section markers,
// restricted to the owning account like every other secret-adjacent file.
func (s *Snapshot) WriteFile(path string) error {
	var b strings.Builder
	b.WriteString(snapshotHeader + "\n")
	b.WriteString(snapshotVersion + "\n")
	b.WriteString(instancePrefix + s.Instance + "\n")
	b.WriteString(enginePrefix + string(s.Engine) + "\n")
	b.WriteString(capturedPrefix + s.CapturedAt.UTC().Format(time.RFC3339) + "\n")

	b.WriteString(sectionRoles + "\n")
	for _, stmt := range s.RoleStatements {
		b.WriteString(stmt + "\n")
	}
	b.WriteString(sectionGrants + "\n")
	for _, stmt := range s.GrantStatements {
		b.WriteString(stmt + "\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write role snapshot: %w", err)
	}
	return nil
}

// ReadSnapshotFile parses a snapshot written by WriteFile.
func ReadSnapshotFile(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open role snapshot: %w", err)
	}
	defer file.Close()

	snapshot := &Snapshot{}
	section := ""

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			if line != snapshotHeader {
				return nil, fmt.Errorf("%s is not a dbkeeper role snapshot", path)
			}
			first = false
			continue
		}

		switch {
		case line == sectionRoles:
			section = "roles"
		case line == sectionGrants:
			section = "grants"
		case strings.HasPrefix(line, instancePrefix):
			snapshot.Instance = strings.TrimPrefix(line, instancePrefix)
		case strings.HasPrefix(line, enginePrefix):
			snapshot.Engine = engine.Kind(strings.TrimPrefix(line, enginePrefix))
		case strings.HasPrefix(line, capturedPrefix):
			if ts, err := time.Parse(time.RFC3339, strings.TrimPrefix(line, capturedPrefix)); err == nil {
				snapshot.CapturedAt = ts
			}
		case strings.HasPrefix(line, "--"), strings.TrimSpace(line) == "":
			// comments and blanks
		case section == "roles":
			snapshot.RoleStatements = append(snapshot.RoleStatements, line)
		case section == "grants":
			snapshot.GrantStatements = append(snapshot.GrantStatements, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read role snapshot: %w", err)
	}
	return snapshot, nil
}
