package archive

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

var (
	mainPattern    = regexp.MustCompile(`(?i)^(.+)-main(\.[^./]+)$`)
	overlayPattern = regexp.MustCompile(`(?i)^(.+)-overlay(\.[^./]+)$`)
)

var videoExts = map[string]bool{
	".mp4": true,
	".mov": true,
	".m4v": true,
	".avi": true,
	".mkv": true,
}

// Pair groups the main and overlay members that share a base name. Either
// half may be missing.
type Pair struct {
	Base    string
	Main    string
	Overlay string
}

// Complete reports whether both halves are present.
func (p Pair) Complete() bool {
	return p.Main != "" && p.Overlay != ""
}

// IsVideo routes by the main member's extension.
func (p Pair) IsVideo() bool {
	return videoExts[strings.ToLower(path.Ext(p.Main))]
}

// PairMembers groups member names by base, sorted by base. Names matching
// neither pattern are ignored. A main and its overlay need not share an
// extension.
func PairMembers(names []string) []Pair {
	byBase := map[string]*Pair{}
	get := func(base string) *Pair {
		p, ok := byBase[base]
		if !ok {
			p = &Pair{Base: base}
			byBase[base] = p
		}
		return p
	}

	for _, name := range names {
		if strings.HasSuffix(name, "/") {
			continue
		}
		if m := mainPattern.FindStringSubmatch(name); m != nil {
			get(m[1]).Main = name
		} else if m := overlayPattern.FindStringSubmatch(name); m != nil {
			get(m[1]).Overlay = name
		}
	}

	pairs := make([]Pair, 0, len(byBase))
	for _, p := range byBase {
		pairs = append(pairs, *p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Base < pairs[j].Base })
	return pairs
}
