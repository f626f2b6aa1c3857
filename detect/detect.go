// Package detect sniffs the byte encoding of an uploaded CDR file.
//
// Only one case is special: the simplified-Chinese legacy family is read
// as GBK. Everything else, including an undecided detector, is UTF-8.
package detect

import (
	"strings"

	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type Encoding string

const (
	UTF8 Encoding = "UTF-8"
	GBK  Encoding = "GBK"
)

// sampleSize caps how much of the file the detector looks at.
const sampleSize = 64 << 10

// legacy holds the detector labels that mean "GB2312 family".
var legacy = map[string]struct{}{
	"GB2312":  {},
	"GB18030": {},
}

func label(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "").Replace(s)
}

// Detect returns the encoding to decode data with. It never fails.
func Detect(data []byte) Encoding {
	if len(data) > sampleSize {
		data = data[:sampleSize]
	}
	res, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || res == nil {
		zap.L().Named("detect").Debug("no verdict, defaulting", zap.String("encoding", string(UTF8)))
		return UTF8
	}
	return fromLabel(res.Charset)
}

func fromLabel(charset string) Encoding {
	if _, ok := legacy[label(charset)]; ok {
		return GBK
	}
	return UTF8
}

// Decoder returns the transformer that turns enc into UTF-8 text.
func Decoder(enc Encoding) transform.Transformer {
	if enc == GBK {
		return simplifiedchinese.GBK.NewDecoder()
	}
	return unicode.BOMOverride(unicode.UTF8.NewDecoder())
}
