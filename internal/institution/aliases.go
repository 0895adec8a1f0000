package institution

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Alias maps alias keywords to one canonical institution group. Keywords are
// matched as substrings of the normalized raw name, so they must be written in
// normalized form (uppercase ASCII, no punctuation).
type Alias struct {
	Canonical string   `yaml:"canonical" json:"canonical"`
	Keywords  []string `yaml:"keywords" json:"keywords"`
}

// DefaultAliases is the built-in alias table. Order matters: the first entry
// with a matching keyword wins, so more specific groups come first.
var DefaultAliases = []Alias{
	{Canonical: "이젠아카데미", Keywords: []string{"이젠컴퓨터", "이젠아이티", "이젠IT", "이젠아카데미"}},
	{Canonical: "그린컴퓨터아카데미", Keywords: []string{"그린컴퓨터", "그린아카데미"}},
	{Canonical: "멀티캠퍼스", Keywords: []string{"멀티캠퍼스", "MULTICAMPUS"}},
	{Canonical: "패스트캠퍼스", Keywords: []string{"패스트캠퍼스", "데이원컴퍼니", "FASTCAMPUS"}},
	{Canonical: "엘리스", Keywords: []string{"엘리스그룹", "엘리스아카데미", "엘리스트랙", "ELICE"}},
	{Canonical: "KH정보교육원", Keywords: []string{"KH정보교육원", "KH정보교육"}},
	{Canonical: "휴먼교육센터", Keywords: []string{"휴먼교육센터", "휴먼컴퓨터", "휴먼IT"}},
	{Canonical: "더조은아카데미", Keywords: []string{"더조은컴퓨터", "더조은아카데미", "더조은IT"}},
	{Canonical: "솔데스크", Keywords: []string{"솔데스크"}},
	{Canonical: "중앙정보처리학원", Keywords: []string{"중앙정보처리", "중앙정보기술인재개발원", "중앙HTA"}},
	{Canonical: "비트교육센터", Keywords: []string{"비트교육센터", "비트캠프", "BITCAMP"}},
	{Canonical: "멋쟁이사자처럼", Keywords: []string{"멋쟁이사자처럼", "LIKELION"}},
	{Canonical: "코드스테이츠", Keywords: []string{"코드스테이츠", "CODESTATES"}},
	{Canonical: "한국폴리텍대학", Keywords: []string{"한국폴리텍", "폴리텍대학"}},
}

type aliasFile struct {
	Aliases []Alias `yaml:"aliases"`
}

// LoadAliases reads an alias table from a YAML file of the form
//
//	aliases:
//	  - canonical: 이젠아카데미
//	    keywords: [이젠컴퓨터, 이젠아이티]
//
// Keywords are normalized on load so the file can use natural spelling.
func LoadAliases(path string) ([]Alias, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "institution: read alias file %s", path)
	}

	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "institution: parse alias file %s", path)
	}
	if len(f.Aliases) == 0 {
		return nil, eris.Errorf("institution: alias file %s has no entries", path)
	}

	out := make([]Alias, 0, len(f.Aliases))
	for i, a := range f.Aliases {
		canonical := strings.TrimSpace(a.Canonical)
		if canonical == "" {
			return nil, eris.Errorf("institution: alias entry %d has no canonical name", i)
		}
		var keywords []string
		for _, k := range a.Keywords {
			if nk := NormalizeName(k); nk != "" {
				keywords = append(keywords, nk)
			}
		}
		if len(keywords) == 0 {
			return nil, eris.Errorf("institution: alias %q has no keywords", canonical)
		}
		out = append(out, Alias{Canonical: canonical, Keywords: keywords})
	}
	return out, nil
}
