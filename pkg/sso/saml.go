package sso

import (
	"bytes"
	"compress/flate"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/websso/pkg/config"
)

// SAMLAdapter implements AssertionAdapter as a SAML 2.0 service provider
type SAMLAdapter struct {
	config   *config.SAMLConfig
	sp       *saml2.SAMLServiceProvider
	baseURL  string
	sessions *upstreamSessions
	logger   logrus.FieldLogger
}

// NewSAMLAdapter creates a new SAML adapter
func NewSAMLAdapter(cfg *config.SAMLConfig, opts *AdapterOptions) (*SAMLAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("SAML config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	certs, err := config.ParseCertificates(cfg.Certificate)
	if err != nil {
		return nil, err
	}
	certStore := dsig.MemoryX509CertificateStore{
		Roots: certs,
	}

	// Parse SP key pair if provided
	var keyStore dsig.X509KeyStore
	if cfg.SPPrivateKey != "" {
		pair, err := tls.X509KeyPair([]byte(cfg.SPCertificate), []byte(cfg.SPPrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse SP key pair: %w", err)
		}
		ks := dsig.TLSCertKeyStore(pair)
		keyStore = &ks
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.SSOURL,
		IdentityProviderSLOURL:      cfg.SLOURL,
		IdentityProviderIssuer:      cfg.EntityID,
		ServiceProviderIssuer:       opts.BaseURL + "/sso/metadata",
		AssertionConsumerServiceURL: opts.BaseURL + "/sso/acs",
		ServiceProviderSLOURL:       opts.BaseURL + "/logout",
		SignAuthnRequests:           cfg.SignRequests && keyStore != nil,
		AudienceURI:                 opts.BaseURL + "/sso/metadata",
		IDPCertificateStore:         &certStore,
		SPKeyStore:                  keyStore,
	}

	// Set NameID format
	if cfg.NameIDFormat != "" {
		sp.NameIdFormat = cfg.NameIDFormat
	}

	return &SAMLAdapter{
		config:   cfg,
		sp:       sp,
		baseURL:  opts.BaseURL,
		sessions: newUpstreamSessions(opts),
		logger:   opts.Logger.WithField("protocol", ProtocolSAML),
	}, nil
}

// Protocol returns the adapter protocol
func (a *SAMLAdapter) Protocol() Protocol {
	return ProtocolSAML
}

// IsAuthenticated reports whether the request carries a live SAML session
func (a *SAMLAdapter) IsAuthenticated(r *http.Request) bool {
	_, err := a.sessions.current(r)
	return err == nil
}

// RequireAuth redirects to the IdP with an AuthnRequest
func (a *SAMLAdapter) RequireAuth(w http.ResponseWriter, r *http.Request, returnTo string) error {
	authURL, err := a.sp.BuildAuthURL(SafeReturnTo(a.baseURL, returnTo))
	if err != nil {
		return fmt.Errorf("failed to build auth URL: %w", err)
	}

	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// Attributes returns the attributes of the current SAML session
func (a *SAMLAdapter) Attributes(r *http.Request) (RawAssertion, error) {
	return a.sessions.attributes(r)
}

// HandleCallback processes the SAML response posted to the ACS
func (a *SAMLAdapter) HandleCallback(w http.ResponseWriter, r *http.Request) (string, error) {
	if err := r.ParseForm(); err != nil {
		return "", fmt.Errorf("failed to parse form: %w", err)
	}

	samlResponse := r.FormValue("SAMLResponse")
	if samlResponse == "" {
		return "", fmt.Errorf("missing SAMLResponse parameter")
	}

	// Parse and validate assertion
	assertionInfo, err := a.sp.RetrieveAssertionInfo(samlResponse)
	if err != nil {
		return "", fmt.Errorf("failed to validate assertion: %w", err)
	}

	if assertionInfo.WarningInfo != nil {
		if assertionInfo.WarningInfo.InvalidTime {
			return "", fmt.Errorf("assertion has invalid time")
		}
		if assertionInfo.WarningInfo.NotInAudience {
			return "", fmt.Errorf("assertion not in expected audience")
		}
	}

	session := &Session{
		Protocol:     ProtocolSAML,
		NameID:       assertionInfo.NameID,
		SessionIndex: assertionInfo.SessionIndex,
		Attributes:   assertionFromValues(assertionInfo.Values),
	}
	if err := a.sessions.establish(r.Context(), w, session, assertionInfo.SessionNotOnOrAfter); err != nil {
		return "", err
	}

	a.logger.WithFields(logrus.Fields{
		"name_id":    session.NameID,
		"attributes": len(session.Attributes),
	}).Info("SAML assertion accepted")

	return SafeReturnTo(a.baseURL, r.FormValue("RelayState")), nil
}

// assertionFromValues converts gosaml2 attribute values into a RawAssertion
func assertionFromValues(values saml2.Values) RawAssertion {
	raw := make(RawAssertion, len(values))
	for _, attr := range values {
		list := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			list = append(list, v.Value)
		}
		raw[attr.Name] = append(raw[attr.Name], list...)
	}
	return raw
}

// Logout ends the SAML session, using single logout when the IdP supports it
func (a *SAMLAdapter) Logout(w http.ResponseWriter, r *http.Request, returnURL string) error {
	session, err := a.sessions.current(r)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	a.sessions.clear(w, r)

	if a.config.SLOURL == "" || session == nil || session.NameID == "" {
		// No SLO configured, just clear local session
		http.Redirect(w, r, a.returnTarget(returnURL), http.StatusFound)
		return nil
	}

	logoutURL, err := a.logoutURL(session, returnURL)
	if err != nil {
		return err
	}

	http.Redirect(w, r, logoutURL, http.StatusFound)
	return nil
}

// logoutURL builds the HTTP-Redirect LogoutRequest, signed only when the SP
// has a key pair
func (a *SAMLAdapter) logoutURL(session *Session, relayState string) (string, error) {
	if a.sp.SPKeyStore != nil {
		doc, err := a.sp.BuildLogoutRequestDocument(session.NameID, session.SessionIndex)
		if err != nil {
			return "", fmt.Errorf("failed to build logout request: %w", err)
		}
		logoutURL, err := a.sp.BuildLogoutURLRedirect(relayState, doc)
		if err != nil {
			return "", fmt.Errorf("failed to build logout URL: %w", err)
		}
		return logoutURL, nil
	}

	doc, err := a.sp.BuildLogoutRequestDocumentNoSig(session.NameID, session.SessionIndex)
	if err != nil {
		return "", fmt.Errorf("failed to build logout request: %w", err)
	}
	request, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to serialize logout request: %w", err)
	}
	return redirectBindingURL(a.sp.IdentityProviderSLOURL, request, relayState)
}

// redirectBindingURL encodes an unsigned SAML message for the HTTP-Redirect
// binding: DEFLATE, base64, then the SAMLRequest query parameter
func redirectBindingURL(target, message, relayState string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid SLO URL: %w", err)
	}

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write([]byte(message)); err != nil {
		return "", fmt.Errorf("failed to deflate logout request: %w", err)
	}
	if err := fw.Close(); err != nil {
		return "", fmt.Errorf("failed to deflate logout request: %w", err)
	}

	qs := u.Query()
	qs.Set("SAMLRequest", base64.StdEncoding.EncodeToString(buf.Bytes()))
	if relayState != "" {
		qs.Set("RelayState", relayState)
	}
	u.RawQuery = qs.Encode()
	return u.String(), nil
}

func (a *SAMLAdapter) returnTarget(returnURL string) string {
	if returnURL == "" {
		return a.baseURL + "/"
	}
	return returnURL
}

// Metadata returns the service provider metadata
func (a *SAMLAdapter) Metadata() ([]byte, error) {
	if a.sp.SPKeyStore == nil {
		return a.unsignedMetadata()
	}

	metadata, err := a.sp.Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata: %w", err)
	}
	out, err := xml.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// unsignedMetadata describes an SP without signing or encryption keys
func (a *SAMLAdapter) unsignedMetadata() ([]byte, error) {
	metadata := spMetadata{
		EntityID: a.sp.ServiceProviderIssuer,
		SPSSODescriptor: spSSODescriptor{
			ProtocolSupportEnumeration: "urn:oasis:names:tc:SAML:2.0:protocol",
			SingleLogoutService: []endpoint{{
				Binding:  "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect",
				Location: a.sp.ServiceProviderSLOURL,
			}},
			AssertionConsumerService: []indexedEndpoint{{
				Binding:  "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST",
				Location: a.sp.AssertionConsumerServiceURL,
				Index:    1,
			}},
		},
	}
	out, err := xml.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

type spMetadata struct {
	XMLName         xml.Name        `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`
	EntityID        string          `xml:"entityID,attr"`
	SPSSODescriptor spSSODescriptor `xml:"SPSSODescriptor"`
}

type spSSODescriptor struct {
	ProtocolSupportEnumeration string            `xml:"protocolSupportEnumeration,attr"`
	SingleLogoutService        []endpoint        `xml:"SingleLogoutService"`
	AssertionConsumerService   []indexedEndpoint `xml:"AssertionConsumerService"`
}

type endpoint struct {
	Binding  string `xml:"Binding,attr"`
	Location string `xml:"Location,attr"`
}

type indexedEndpoint struct {
	Binding  string `xml:"Binding,attr"`
	Location string `xml:"Location,attr"`
	Index    int    `xml:"index,attr"`
}
