package scanner

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jamesruggles/surfacewatch/internal/events"
)

type nmapRun struct {
	XMLName xml.Name   `xml:"nmaprun"`
	Scanner string     `xml:"scanner,attr"`
	Args    string     `xml:"args,attr"`
	Hosts   []nmapHost `xml:"host"`
}

type nmapHost struct {
	Status    nmapStatus    `xml:"status"`
	Addresses []nmapAddress `xml:"address"`
	Ports     []nmapPort    `xml:"ports>port"`
	Times     *nmapTimes    `xml:"times"`
}

type nmapStatus struct {
	State string `xml:"state,attr"`
}

type nmapAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type nmapTimes struct {
	SRTT string `xml:"srtt,attr"`
}

type nmapPort struct {
	Protocol string       `xml:"protocol,attr"`
	PortID   string       `xml:"portid,attr"`
	State    *nmapState   `xml:"state"`
	Service  *nmapService `xml:"service"`
}

type nmapState struct {
	State string `xml:"state,attr"`
}

type nmapService struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
	Version string `xml:"version,attr"`
}

// Parser turns nmap XML output into events.
type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ParseFile parses the nmap XML document at path. Every event gets ts.
func (p *Parser) ParseFile(path string, ts time.Time) ([]events.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scan output: %w", err)
	}
	defer f.Close()

	evs, err := p.Parse(f, ts)
	var perr *ParseError
	if errors.As(err, &perr) && perr.Source == "" {
		perr.Source = path
	}
	return evs, err
}

// Parse reads one nmap XML document. The root element must be nmaprun.
// Hosts without an address and ports that cannot be represented are
// skipped with a warning; the rest of the document is still used.
func (p *Parser) Parse(r io.Reader, ts time.Time) ([]events.Event, error) {
	dec := xml.NewDecoder(r)
	start, err := rootElement(dec)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if start.Name.Local != "nmaprun" {
		return nil, &ParseError{Err: fmt.Errorf("root element is <%s>, want <nmaprun>", start.Name.Local)}
	}

	var run nmapRun
	if err := dec.DecodeElement(&run, &start); err != nil {
		return nil, &ParseError{Err: err}
	}

	var evs []events.Event
	var skipped int
	for i, h := range run.Hosts {
		if h.Status.State == "down" {
			continue
		}
		addr := hostAddress(h.Addresses)
		if addr == "" {
			p.logger.Warn("host without address skipped", "index", i)
			skipped++
			continue
		}

		evs = append(evs, events.HostDiscovered{
			Base:      events.Base{Host: addr, Timestamp: ts},
			LatencyMS: p.latency(addr, h.Times),
		})

		for _, port := range h.Ports {
			ev, err := portEvent(addr, port, ts)
			if err != nil {
				p.logger.Warn("port skipped", "host", addr, "portid", port.PortID, "error", err)
				skipped++
				continue
			}
			evs = append(evs, ev)
		}
	}

	p.logger.Debug("parsed nmap output", "hosts", len(run.Hosts), "events", len(evs), "skipped", skipped)
	return evs, nil
}

func rootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return xml.StartElement{}, errors.New("document has no root element")
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

// hostAddress prefers an IP address over a MAC address.
func hostAddress(addrs []nmapAddress) string {
	for _, a := range addrs {
		if (a.AddrType == "ipv4" || a.AddrType == "ipv6") && a.Addr != "" {
			return a.Addr
		}
	}
	for _, a := range addrs {
		if a.Addr != "" {
			return a.Addr
		}
	}
	return ""
}

// latency converts srtt from microseconds to milliseconds.
func (p *Parser) latency(host string, t *nmapTimes) *float64 {
	if t == nil || t.SRTT == "" {
		return nil
	}
	us, err := strconv.ParseFloat(t.SRTT, 64)
	if err != nil || us < 0 {
		p.logger.Debug("unparseable latency", "host", host, "srtt", t.SRTT)
		return nil
	}
	ms := us / 1000
	return &ms
}

func portEvent(host string, port nmapPort, ts time.Time) (events.PortState, error) {
	n, err := strconv.Atoi(port.PortID)
	if err != nil || n < 0 || n > 65535 {
		return events.PortState{}, fmt.Errorf("invalid port id %q", port.PortID)
	}

	proto := events.Protocol(port.Protocol)
	if port.Protocol == "" {
		proto = events.ProtocolTCP
	}
	if proto != events.ProtocolTCP && proto != events.ProtocolUDP {
		return events.PortState{}, fmt.Errorf("unsupported protocol %q", port.Protocol)
	}

	if port.State == nil {
		return events.PortState{}, errors.New("missing state element")
	}
	state, ok := normalizeState(port.State.State)
	if !ok {
		return events.PortState{}, fmt.Errorf("unsupported state %q", port.State.State)
	}

	ev := events.PortState{
		Base:     events.Base{Host: host, Timestamp: ts},
		Port:     n,
		Protocol: proto,
		State:    state,
	}
	if port.Service != nil {
		ev.Service = port.Service.Name
		ev.Product = port.Service.Product
		ev.Version = port.Service.Version
	}
	return ev, nil
}

// normalizeState folds nmap's ambiguous states into filtered.
func normalizeState(s string) (events.State, bool) {
	switch s {
	case "open":
		return events.StateOpen, true
	case "closed":
		return events.StateClosed, true
	case "filtered", "open|filtered", "closed|filtered":
		return events.StateFiltered, true
	default:
		return "", false
	}
}
