// Package docresolve determines which stored documents, if any, a query
// addresses, and whether a comparison is being requested.
//
// Resolution runs an ordered table of named rules; the first rule whose
// predicate matches wins. Each rule is independently testable and the table
// makes the priority and mutual exclusivity explicit.
package docresolve

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"docsage/internal/domain"
)

// SemanticSearcher is the external semantic-catalog-search collaborator used
// by the last-resort rule.
type SemanticSearcher interface {
	FindSemanticMatches(ctx context.Context, query string, topN int) ([]domain.SemanticMatch, error)
}

// Resolver resolves document targets against a catalog snapshot. Except for
// the semantic fallback it is pure with respect to its inputs: the same text
// and catalog always produce the same target.
type Resolver struct {
	semantic         SemanticSearcher
	semanticMinScore float64
	logger           *slog.Logger
	rules            []rule
}

// Config configures the resolver.
type Config struct {
	Semantic         SemanticSearcher
	SemanticMinScore float64
	Logger           *slog.Logger
}

type rule struct {
	name    string
	resolve func(ctx context.Context, r *Resolver, text string, catalog []domain.Document) *domain.DocumentTarget
}

func New(cfg Config) *Resolver {
	if cfg.SemanticMinScore <= 0 {
		cfg.SemanticMinScore = 0.3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Resolver{
		semantic:         cfg.Semantic,
		semanticMinScore: cfg.SemanticMinScore,
		logger:           cfg.Logger,
	}
	r.rules = []rule{
		{"list-all", resolveListAll},
		{"compare-two-filenames", resolveCompareTwo},
		{"compare-many-pattern", resolveCompareMany},
		{"single-filename", resolveSingleFilename},
		{"keyword-soft-match", resolveKeywordMatch},
		{"semantic-fallback", resolveSemantic},
	}
	return r
}

// Resolve runs the rule table in priority order. When no rule matches the
// target mode is none.
func (r *Resolver) Resolve(ctx context.Context, text string, catalog []domain.Document) domain.DocumentTarget {
	cleaned := strings.TrimSpace(text)

	for _, rl := range r.rules {
		if target := rl.resolve(ctx, r, cleaned, catalog); target != nil {
			target.MatchedBy = rl.name
			r.logger.Debug("document target resolved", "rule", rl.name, "mode", target.Mode)
			return *target
		}
	}

	return domain.DocumentTarget{Mode: domain.TargetNone, MatchedBy: "none"}
}

// --- rule: list-all -------------------------------------------------------

var listAllPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(list|show( me)?|what)\b.{0,30}\b(documents|docs|files)\b.{0,30}\b(available|uploaded|stored|have)\b`),
	regexp.MustCompile(`(?i)\bwhat\b.{0,20}\b(documents|docs|files)\b`),
	regexp.MustCompile(`(?i)\b(list|show( me)?)\b.{0,10}\b(all\s+)?(the\s+)?(documents|docs|files)\b`),
}

func resolveListAll(_ context.Context, _ *Resolver, text string, _ []domain.Document) *domain.DocumentTarget {
	for _, p := range listAllPatterns {
		if p.MatchString(text) {
			return &domain.DocumentTarget{Mode: domain.TargetListAll}
		}
	}
	return nil
}

// --- rule: explicit two-filename compare ----------------------------------

// filenamePattern matches filename-like tokens: a stem plus a known
// document extension.
var filenamePattern = regexp.MustCompile(`(?i)[\w][\w\-.]*\.(pdf|txt|md|docx?|log|csv|json|html?|rst)\b`)

var compareVocab = regexp.MustCompile(`(?i)\b(compare|comparison|difference|differences|diff|versus|vs\.?|changed between)\b`)

func resolveCompareTwo(_ context.Context, _ *Resolver, text string, catalog []domain.Document) *domain.DocumentTarget {
	if !compareVocab.MatchString(text) {
		return nil
	}
	names := filenamePattern.FindAllString(text, -1)
	if len(names) < 2 {
		return nil
	}

	// An unresolved side keeps its filename and a null ID so downstream can
	// name the missing document in its error response.
	first := resolveFilename(names[0], catalog)
	second := resolveFilename(names[1], catalog)
	return &domain.DocumentTarget{
		Mode:   domain.TargetCompareTwo,
		First:  first,
		Second: second,
	}
}

// --- rule: multi-document compare-by-pattern ------------------------------

var compareManyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwhat\b.{0,15}\bchanged\b.{0,20}\b(across|between|over)\b.{0,40}\b(logs?|documents|docs|files|reports?|versions?)\b`),
	regexp.MustCompile(`(?i)\bcompare\b.{0,10}\b(all|our|my|the)\b.{0,40}\b(logs?|documents|docs|files|reports?|versions?)\b`),
	regexp.MustCompile(`(?i)\bhow\b.{0,15}\b(logs?|documents|docs|reports?)\b.{0,20}\bevolved\b`),
}

// compareManyKeyword extracts the optional filter keyword between the
// trigger verb and the trailing noun, e.g. "across our deploy logs" → "deploy".
var compareManyKeyword = regexp.MustCompile(`(?i)\b(?:across|between|over|all|our|my|the)\s+([\w\-]+)\s+(?:logs?|documents|docs|files|reports?|versions?)\b`)

func resolveCompareMany(_ context.Context, _ *Resolver, text string, catalog []domain.Document) *domain.DocumentTarget {
	matched := false
	for _, p := range compareManyPatterns {
		if p.MatchString(text) {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	pattern := ""
	if m := compareManyKeyword.FindStringSubmatch(text); len(m) == 2 {
		kw := strings.ToLower(m[1])
		switch kw {
		case "the", "all", "our", "my", "your", "those", "these":
			// Articles are not filter keywords.
		default:
			pattern = kw
		}
	}

	var docs []domain.Document
	for _, d := range catalog {
		if pattern == "" || strings.Contains(strings.ToLower(d.Filename), pattern) {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UploadedAt.Before(docs[j].UploadedAt)
	})

	// Fewer than 2 matches is still compareMany: downstream reports
	// "insufficient documents" instead of comparing.
	return &domain.DocumentTarget{Mode: domain.TargetCompareMany, Many: docs}
}

// --- rule: single explicit filename ---------------------------------------

func resolveSingleFilename(_ context.Context, _ *Resolver, text string, catalog []domain.Document) *domain.DocumentTarget {
	name := filenamePattern.FindString(text)
	if name == "" {
		return nil
	}
	ref := resolveFilename(name, catalog)
	return &domain.DocumentTarget{Mode: domain.TargetSingle, Single: ref}
}

// --- rule: keyword soft match ---------------------------------------------

// docPhrasePattern captures a candidate document phrase from constructions
// like "in the Q3 revenue report" or "about our onboarding doc".
var docPhrasePattern = regexp.MustCompile(`(?i)\b(?:in|from|about|regarding)\s+(?:the|our|my|that)\s+(.{2,60}?)\s*(?:report|document|doc|file|notes|guide|log)s?\b`)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"our": {}, "your": {}, "what": {}, "was": {}, "are": {}, "has": {},
	"have": {}, "about": {}, "from": {}, "latest": {}, "last": {}, "new": {},
}

func resolveKeywordMatch(_ context.Context, _ *Resolver, text string, catalog []domain.Document) *domain.DocumentTarget {
	m := docPhrasePattern.FindStringSubmatch(text)
	if len(m) != 2 {
		return nil
	}

	terms := significantTerms(m[1])
	if len(terms) == 0 {
		return nil
	}

	best := domain.DocumentRef{}
	bestScore := 0
	for _, d := range catalog {
		lower := strings.ToLower(d.Filename)
		score := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = domain.DocumentRef{ID: d.ID, Filename: d.Filename}
		}
	}

	if bestScore < 2 {
		return nil
	}
	return &domain.DocumentTarget{Mode: domain.TargetSingle, Single: best}
}

// significantTerms lowercases and splits a phrase, dropping short tokens and
// stopwords.
func significantTerms(phrase string) []string {
	fields := strings.FieldsFunc(strings.ToLower(phrase), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	var terms []string
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// --- rule: semantic fallback ----------------------------------------------

// genericDocPhrase gates the semantic fallback: it only fires when the text
// refers to a document generically without a resolvable name.
var genericDocPhrase = regexp.MustCompile(`(?i)\b(?:the|our|that|this)\s+(?:report|document|doc|file|logs?|notes|guide)s?\b`)

func resolveSemantic(ctx context.Context, r *Resolver, text string, catalog []domain.Document) *domain.DocumentTarget {
	if r.semantic == nil || len(catalog) == 0 {
		return nil
	}
	if !genericDocPhrase.MatchString(text) {
		return nil
	}

	matches, err := r.semantic.FindSemanticMatches(ctx, text, 3)
	if err != nil {
		r.logger.Warn("semantic catalog search failed", "err", err)
		return nil
	}
	if len(matches) == 0 || matches[0].Score < r.semanticMinScore {
		return nil
	}

	top := matches[0]
	return &domain.DocumentTarget{
		Mode:   domain.TargetSingle,
		Single: domain.DocumentRef{ID: top.DocumentID, Filename: top.Filename},
	}
}

// --- filename resolution cascade ------------------------------------------

// resolveFilename matches a mentioned filename against the catalog using a
// fixed cascade: exact, case-insensitive, suffix, substring. The first
// satisfied step wins.
func resolveFilename(name string, catalog []domain.Document) domain.DocumentRef {
	for _, d := range catalog {
		if d.Filename == name {
			return domain.DocumentRef{ID: d.ID, Filename: d.Filename}
		}
	}

	lower := strings.ToLower(name)
	for _, d := range catalog {
		if strings.ToLower(d.Filename) == lower {
			return domain.DocumentRef{ID: d.ID, Filename: d.Filename}
		}
	}

	for _, d := range catalog {
		if strings.HasSuffix(strings.ToLower(d.Filename), lower) {
			return domain.DocumentRef{ID: d.ID, Filename: d.Filename}
		}
	}

	for _, d := range catalog {
		if strings.Contains(strings.ToLower(d.Filename), lower) {
			return domain.DocumentRef{ID: d.ID, Filename: d.Filename}
		}
	}

	return domain.DocumentRef{Filename: name}
}
