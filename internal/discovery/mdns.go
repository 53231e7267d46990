package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ndiService is the mDNS service under which NDI peers advertise themselves.
const ndiService = "_ndi._tcp.local."

const (
	mdnsAddress = "224.0.0.251"
	mdnsPort    = 5353
)

// MDNSScanner discovers NDI peers by querying the mDNS multicast group and
// accumulating PTR answers. One Scan call re-queries every scanPollInterval
// until the timeout elapses, deduplicating instance names as they arrive.
type MDNSScanner struct {
	service string
	logger  *slog.Logger
}

// NewMDNSScanner constructs a scanner for the standard NDI service.
func NewMDNSScanner(logger *slog.Logger) *MDNSScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &MDNSScanner{service: ndiService, logger: logger}
}

// Scan implements Scanner. A socket or query-construction failure is a
// discovery init failure; an expired window with no answers is an empty
// result, never an error.
func (s *MDNSScanner) Scan(ctx context.Context, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("open mDNS socket: %w", err)
	}
	defer conn.Close()

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(s.service), dns.TypePTR)
	query.RecursionDesired = false
	packed, err := query.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack mDNS query: %w", err)
	}

	destination := &net.UDPAddr{IP: net.ParseIP(mdnsAddress), Port: mdnsPort}
	if _, err := conn.WriteToUDP(packed, destination); err != nil {
		return nil, fmt.Errorf("send mDNS query: %w", err)
	}

	deadline := time.Now().Add(timeout)
	seen := make(map[string]struct{})
	var names []string
	buf := make([]byte, 65536)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		sliceDeadline := time.Now().Add(scanPollInterval)
		if sliceDeadline.After(deadline) {
			sliceDeadline = deadline
		}
		_ = conn.SetReadDeadline(sliceDeadline)

		for {
			n, _, readErr := conn.ReadFromUDP(buf)
			if readErr != nil {
				break
			}
			for _, name := range s.parseAnswers(buf[:n]) {
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				names = append(names, name)
				s.logger.Debug("mDNS answer", "name", name)
			}
		}

		// Re-announce the question; some senders only answer fresh queries.
		if time.Now().Before(deadline) {
			_, _ = conn.WriteToUDP(packed, destination)
		}
	}
	return names, nil
}

func (s *MDNSScanner) parseAnswers(payload []byte) []string {
	var response dns.Msg
	if err := response.Unpack(payload); err != nil {
		return nil
	}
	records := append(response.Answer, response.Extra...)
	var names []string
	for _, rr := range records {
		ptr, ok := rr.(*dns.PTR)
		if !ok {
			continue
		}
		if !strings.EqualFold(rr.Header().Name, dns.Fqdn(s.service)) {
			continue
		}
		if name := instanceName(ptr.Ptr, s.service); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// instanceName strips the service suffix from a PTR target and unescapes the
// DNS label, leaving the human-readable NDI peer name.
func instanceName(target, service string) string {
	label := strings.TrimSuffix(dns.Fqdn(target), dns.Fqdn(service))
	label = strings.TrimSuffix(label, ".")
	if label == "" {
		return ""
	}
	replacer := strings.NewReplacer(`\ `, " ", `\.`, ".", `\(`, "(", `\)`, ")", `\\`, `\`)
	return replacer.Replace(label)
}
