package epub

import (
	"encoding/xml"
	"errors"
	"io/fs"
	"strings"
)

// ErrDRMProtected is returned for books whose content files are encrypted.
var ErrDRMProtected = errors.New("epub: DRM-protected content cannot be processed")

type encryptionXML struct {
	XMLName       xml.Name        `xml:"encryption"`
	EncryptedData []encryptedData `xml:"EncryptedData"`
}

type encryptedData struct {
	EncryptionMethod struct {
		Algorithm string `xml:"Algorithm,attr"`
	} `xml:"EncryptionMethod"`
	CipherData struct {
		CipherReference struct {
			URI string `xml:"URI,attr"`
		} `xml:"CipherReference"`
	} `xml:"CipherData"`
}

// checkDRM rejects books carrying an Adobe rights file or encrypted content
// documents. Font obfuscation is allowed.
func checkDRM(fsys fs.FS) error {
	if _, err := fs.Stat(fsys, "META-INF/rights.xml"); err == nil {
		return ErrDRMProtected
	}
	data, err := fs.ReadFile(fsys, "META-INF/encryption.xml")
	if err != nil {
		return nil
	}
	var enc encryptionXML
	if err := decodeXML(data, &enc); err != nil {
		return ErrDRMProtected
	}
	for _, ed := range enc.EncryptedData {
		if isFontObfuscation(ed.EncryptionMethod.Algorithm) {
			continue
		}
		if isContentFile(ed.CipherData.CipherReference.URI) {
			return ErrDRMProtected
		}
	}
	return nil
}

func isFontObfuscation(algorithm string) bool {
	switch algorithm {
	case "http://www.idpf.org/2008/embedding", "http://ns.adobe.com/pdf/enc#RC":
		return true
	}
	return strings.Contains(algorithm, "obfuscation")
}

func isContentFile(uri string) bool {
	uri = strings.ToLower(uri)
	for _, ext := range []string{".xhtml", ".html", ".htm", ".xml", ".css"} {
		if strings.HasSuffix(uri, ext) {
			return true
		}
	}
	return false
}
