package fingerprint

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	tls "github.com/sardanioss/utls"
)

// chromeSignatureSchemes is what Chrome advertises in signature_algorithms
var chromeSignatureSchemes = []tls.SignatureScheme{
	tls.ECDSAWithP256AndSHA256,
	tls.PSSWithSHA256,
	tls.PKCS1WithSHA256,
	tls.ECDSAWithP384AndSHA384,
	tls.PSSWithSHA384,
	tls.PKCS1WithSHA384,
	tls.PSSWithSHA512,
	tls.PKCS1WithSHA512,
}

// chromeALPN is what Chrome offers in ALPN and ALPS
var chromeALPN = []string{"h2", "http/1.1"}

// isGREASE returns true if the value is a TLS GREASE value (RFC 8701).
func isGREASE(v uint16) bool {
	return (v & 0x0f0f) == 0x0a0a
}

// ParseJA3 builds a ClientHelloSpec from a JA3 string
// (TLSVersion,Ciphers,Extensions,Curves,PointFormats, dash-separated decimals).
// JA3 carries extension IDs only, so extension bodies are filled with
// Chrome's values and ALPN/ALPS advertise h2 and http/1.1.
//
// A spec holds per-handshake state: build a new one for every connection.
func ParseJA3(ja3 string) (*tls.ClientHelloSpec, error) {
	parts := strings.Split(ja3, ",")
	if len(parts) != 5 {
		return nil, fmt.Errorf("ja3: expected 5 comma-separated fields, got %d", len(parts))
	}

	version, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid TLS version %q: %w", parts[0], err)
	}
	ciphers, err := parseList(parts[1], 16)
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid cipher suites: %w", err)
	}
	extIDs, err := parseList(parts[2], 16)
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid extensions: %w", err)
	}
	curveIDs, err := parseList(parts[3], 16)
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid elliptic curves: %w", err)
	}
	points, err := parseList(parts[4], 8)
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid point formats: %w", err)
	}

	spec := &tls.ClientHelloSpec{
		TLSVersMin:         tls.VersionTLS12,
		TLSVersMax:         uint16(version),
		CompressionMethods: []uint8{0},
	}
	for _, c := range ciphers {
		if !isGREASE(uint16(c)) {
			spec.CipherSuites = append(spec.CipherSuites, uint16(c))
		}
	}

	var curves []tls.CurveID
	for _, c := range curveIDs {
		if !isGREASE(uint16(c)) {
			curves = append(curves, tls.CurveID(c))
		}
	}
	pointFormats := make([]uint8, len(points))
	for i, p := range points {
		pointFormats[i] = uint8(p)
	}

	for _, id := range extIDs {
		if id == 43 {
			// the record version is always TLS 1.2; supported_versions means 1.3
			spec.TLSVersMax = tls.VersionTLS13
		}
		spec.Extensions = append(spec.Extensions, extension(uint16(id), curves, pointFormats))
	}
	if spec.TLSVersMax < tls.VersionTLS12 {
		spec.TLSVersMax = tls.VersionTLS12
	}
	return spec, nil
}

func extension(id uint16, curves []tls.CurveID, pointFormats []uint8) tls.TLSExtension {
	if isGREASE(id) {
		return &tls.UtlsGREASEExtension{}
	}
	switch id {
	case 0:
		return &tls.SNIExtension{}
	case 5:
		return &tls.StatusRequestExtension{}
	case 10:
		return &tls.SupportedCurvesExtension{Curves: curves}
	case 11:
		return &tls.SupportedPointsExtension{SupportedPoints: pointFormats}
	case 13:
		return &tls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: chromeSignatureSchemes}
	case 16:
		return &tls.ALPNExtension{AlpnProtocols: slices.Clone(chromeALPN)}
	case 18:
		return &tls.SCTExtension{}
	case 21:
		return &tls.UtlsPaddingExtension{GetPaddingLen: tls.BoringPaddingStyle}
	case 23:
		return &tls.UtlsExtendedMasterSecretExtension{}
	case 27:
		return &tls.UtlsCompressCertExtension{Algorithms: []tls.CertCompressionAlgo{tls.CertCompressionBrotli}}
	case 28:
		return &tls.FakeRecordSizeLimitExtension{Limit: 0x4001}
	case 35:
		return &tls.SessionTicketExtension{}
	case 41:
		return &tls.UtlsPreSharedKeyExtension{}
	case 43:
		return &tls.SupportedVersionsExtension{Versions: []uint16{tls.VersionTLS13, tls.VersionTLS12}}
	case 45:
		return &tls.PSKKeyExchangeModesExtension{Modes: []uint8{tls.PskModeDHE}}
	case 51:
		// one share for the preferred group, like a browser
		var shares []tls.KeyShare
		if len(curves) > 0 {
			shares = []tls.KeyShare{{Group: curves[0]}}
		}
		return &tls.KeyShareExtension{KeyShares: shares}
	case 17513:
		return &tls.ApplicationSettingsExtension{SupportedProtocols: []string{"h2"}}
	case 65037:
		return &tls.GREASEEncryptedClientHelloExtension{}
	case 65281:
		return &tls.RenegotiationInfoExtension{Renegotiation: tls.RenegotiateOnceAsClient}
	default:
		return &tls.GenericExtension{Id: id}
	}
}

// parseList parses dash-separated decimals that fit in bits
func parseList(s string, bits int) ([]uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []uint64
	for _, p := range strings.Split(s, "-") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
