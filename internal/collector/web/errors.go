package web

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

// classify wraps a fetch failure with the kind the orchestrator acts on.
func classify(rawURL string, err error) *discovery.CollectionError {
	return discovery.NewCollectionError(kindOf(err), rawURL, err)
}

func kindOf(err error) discovery.ErrorKind {
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return discovery.KindPolicy
	}
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		if statusIsTransient(statusErr.Code) {
			return discovery.KindTransient
		}
		return discovery.KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return discovery.KindTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return discovery.KindTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return discovery.KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return discovery.KindTransient
	}
	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return discovery.KindTransient
	}
	return discovery.KindPermanent
}

// StatusError is reported when the server answered with an error status.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}
