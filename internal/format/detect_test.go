package format_test

import (
	"testing"

	"github.com/yangshun/nodepack-sub002/internal/format"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want format.Format
	}{
		{"default export", "export default 3 + 5", format.ESM},
		{"named export", "export function add(a, b) { return a + b }", format.ESM},
		{"import no exports", "import p from 'path'\nconsole.log(p)", format.ESM},
		{"module.exports", "const p = require('path')\nmodule.exports = p.join('x','y')", format.CJS},
		{"exports.prop", "exports.add = function(a, b) { return a + b }", format.CJS},
		{"require only", "const fs = require('fs')\nfs.readFileSync('/x')", format.CJS},
		{"empty source defaults esm", "", format.ESM},
		{"plain statements default esm", "const x = 1\nconsole.log(x)", format.ESM},
		{
			"import alongside module.exports is cjs",
			"import './side-effect.js'\nmodule.exports = {}",
			format.CJS,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := format.Detect(tc.src); got != tc.want {
				t.Errorf("Detect(%q) = %v, want %v", tc.src, got, tc.want)
			}
		})
	}
}

func TestDetectIgnoresRequireInLineComment(t *testing.T) {
	src := "// require('fs') is just a comment\nexport default 1"
	if got := format.Detect(src); got != format.ESM {
		t.Errorf("Detect = %v, want ESM (require is inside a comment)", got)
	}

	src2 := "// require('fs')\nconsole.log('no real require call')"
	if got := format.Detect(src2); got != format.ESM {
		t.Errorf("Detect = %v, want ESM (only require occurrence is commented out)", got)
	}
}

func TestDetectIgnoresRequireInBlockComment(t *testing.T) {
	src := "/* uses require('fs') internally */\nexport const x = 1"
	if got := format.Detect(src); got != format.ESM {
		t.Errorf("Detect = %v, want ESM", got)
	}
}

func TestDetectIgnoresRequireInStringLiteral(t *testing.T) {
	src := `const msg = "call require('fs') yourself"
console.log(msg)`
	if got := format.Detect(src); got != format.ESM {
		t.Errorf("Detect = %v, want ESM (require only appears inside a string literal)", got)
	}
}

func TestDetectStableAcrossWhitespace(t *testing.T) {
	a := format.Detect("export default 1")
	b := format.Detect("   export   default   1   ")
	if a != b {
		t.Errorf("Detect not stable across whitespace: %v vs %v", a, b)
	}
}
