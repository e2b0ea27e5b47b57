package cms

import (
	"bytes"
	"compress/zlib"
	"crypto/x509/pkix"
	"encoding/asn1"
	"io"

	"github.com/foxcpp/gosmime/errs"
)

// CompressedData (RFC 3274) has no third-party Go implementation in the
// retrieval pack or the wider ecosystem; this is the one component built
// directly on the standard library (compress/zlib, encoding/asn1) rather
// than a pack-sourced package, mirrored on the ContentInfo/SignedData
// envelope shape used by the rest of this file for consistency.
type compressedData struct {
	Version                  int `asn1:"default:0"`
	CompressionAlgorithm     pkix.AlgorithmIdentifier
	EncapContentInfo         compressedContentInfo
}

type compressedContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     []byte `asn1:"explicit,tag:0"`
}

// compress produces CMS CompressedData octets wrapping content, zlib-compressed.
func compress(content io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(content)
	if err != nil {
		return nil, &errs.CmsError{Op: "compress: read content", Err: err}
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, &errs.CmsError{Op: "compress: zlib write", Err: err}
	}
	if err := zw.Close(); err != nil {
		return nil, &errs.CmsError{Op: "compress: zlib close", Err: err}
	}

	inner := compressedData{
		Version:              0,
		CompressionAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oidZlibCompress},
		EncapContentInfo: compressedContentInfo{
			ContentType: oidData,
			Content:     buf.Bytes(),
		},
	}
	innerDER, err := asn1.Marshal(inner)
	if err != nil {
		return nil, &errs.CmsError{Op: "compress: marshal CompressedData", Err: err}
	}

	ci := contentInfo{
		ContentType: oidCompressedData,
		Content:     asn1.RawValue{Class: 2, Tag: 0, IsCompound: true, Bytes: innerDER},
	}
	out, err := asn1.Marshal(ci)
	if err != nil {
		return nil, &errs.CmsError{Op: "compress: marshal ContentInfo", Err: err}
	}
	return out, nil
}

// decompress reverses compress.
func decompress(der []byte) ([]byte, error) {
	var ci contentInfo
	if _, err := asn1.Unmarshal(der, &ci); err != nil {
		return nil, &errs.CmsError{Op: "decompress: unmarshal ContentInfo", Err: err}
	}
	if !ci.ContentType.Equal(oidCompressedData) {
		return nil, &errs.CmsError{Op: "decompress", Err: errUnexpectedContentType(ci.ContentType)}
	}
	var inner compressedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &inner); err != nil {
		return nil, &errs.CmsError{Op: "decompress: unmarshal CompressedData", Err: err}
	}
	if !inner.CompressionAlgorithm.Algorithm.Equal(oidZlibCompress) {
		return nil, &errs.NotSupportedError{Msg: "compression algorithm " + inner.CompressionAlgorithm.Algorithm.String()}
	}

	zr, err := zlib.NewReader(bytes.NewReader(inner.EncapContentInfo.Content))
	if err != nil {
		return nil, &errs.CmsError{Op: "decompress: zlib open", Err: err}
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, &errs.CmsError{Op: "decompress: zlib read", Err: err}
	}
	return out, nil
}

type errUnexpectedContentType asn1.ObjectIdentifier

func (e errUnexpectedContentType) Error() string {
	return "unexpected content type " + asn1.ObjectIdentifier(e).String()
}
