package restore

import (
	"bufio"
	"io"
	"strings"

	"dbkeeper/internal/engine"
)

// maxMarkerScanLines bounds the search for the source-database marker. Every
// supported engine emits it in the dump preamble, well inside this window.
const maxMarkerScanLines = 500

// scanForSourceDatabase reads the head of a decompressed dump looking for the
// engine's marker statement naming the original database.
func scanForSourceDatabase(r io.Reader, eng engine.Engine) (string, bool, error) {
	reader := bufio.NewReaderSize(r, 1<<20)
	for i := 0; i < maxMarkerScanLines; i++ {
		line, err := reader.ReadString('\n')
		if name, ok := eng.DetectSourceDatabase(strings.TrimSuffix(line, "\n")); ok {
			return name, true, nil
		}
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
	}
	return "", false, nil
}

// filterPipeline is the ordered, engine-aware text-filter applied to every
// dump line during a cross-environment restore: a list of predicate-based
// drop filters plus one identifier substitution pass. Deliberately not a SQL
// parser; the recognized statement shapes are documented on each engine's
// StatementFilters.
type filterPipeline struct {
	engine   engine.Engine
	original string
	target   string
	rewrite  bool

	filters []engine.StatementFilter

	// Dropped counts lines removed per filter name.
	Dropped map[string]int
	// Rewritten counts lines the substitution pass changed.
	Rewritten int
}

func newFilterPipeline(eng engine.Engine, original, target string) *filterPipeline {
	return &filterPipeline{
		engine:   eng,
		original: original,
		target:   target,
		rewrite:  original != "" && original != target,
		filters:  eng.StatementFilters(),
		Dropped:  make(map[string]int),
	}
}

// processLine runs one line through the drop filters and the substitution
// pass. The boolean reports whether the line survives.
func (p *filterPipeline) processLine(line string) (string, bool) {
	trimmed := strings.TrimSuffix(line, "\n")
	for _, filter := range p.filters {
		if filter.Matches(trimmed) {
			p.Dropped[filter.Name]++
			return "", false
		}
	}

	if p.rewrite {
		rewritten := p.engine.RewriteIdentifier(trimmed, p.original, p.target)
		if rewritten != trimmed {
			p.Rewritten++
			trimmed = rewritten
		}
	}
	return trimmed + "\n", true
}

// run streams src through the pipeline into dst. Lines of any length are
// handled; a dump's multi-megabyte extended INSERT rows arrive in chunks and
// only complete lines pass through the filters, so a chunk boundary can never
// split a match.
func (p *filterPipeline) run(dst io.Writer, src io.Reader) error {
	reader := bufio.NewReaderSize(src, 1<<20)
	var pending strings.Builder

	for {
		chunk, err := reader.ReadString('\n')
		if chunk != "" {
			if err == nil || strings.HasSuffix(chunk, "\n") {
				line := chunk
				if pending.Len() > 0 {
					pending.WriteString(chunk)
					line = pending.String()
					pending.Reset()
				}
				out, keep := p.processLine(line)
				if keep {
					if _, werr := io.WriteString(dst, out); werr != nil {
						return werr
					}
				}
			} else {
				// Partial line: the buffer filled or EOF hit mid-line.
				pending.WriteString(chunk)
			}
		}

		if err == io.EOF {
			if pending.Len() > 0 {
				out, keep := p.processLine(pending.String())
				if keep {
					if _, werr := io.WriteString(dst, out); werr != nil {
						return werr
					}
				}
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}
