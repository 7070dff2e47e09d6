// ABOUTME: mDNS service discovery for Kantera renderers
// ABOUTME: Handles both advertisement (renderer side) and browsing (player side)
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service renderers advertise
const ServiceType = "_kantera._tcp"

const (
	defaultPath  = "/ws/"
	queryTimeout = 3 * time.Second
)

// ErrNotFound is returned when no renderer answered in time
var ErrNotFound = errors.New("no renderer found")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // WebSocket path, advertised as a TXT record
}

// Manager handles mDNS operations
type Manager struct {
	config    Config
	ctx       context.Context
	cancel    context.CancelFunc
	renderers chan *Renderer
	logger    *log.Logger
}

// Renderer describes a discovered renderer
type Renderer struct {
	Name string
	Host string
	Port int
	Path string
}

// URL returns the renderer's WebSocket endpoint
func (r *Renderer) URL() string {
	path := r.Path
	if path == "" {
		path = defaultPath
	}
	return "ws://" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port)) + path
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Path == "" {
		config.Path = defaultPath
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		renderers: make(chan *Renderer, 10),
		logger:    log.Default().WithPrefix("mdns"),
	}
}

// Advertise announces a renderer via mDNS until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + m.config.Path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.logger.Info("Advertising renderer", "name", m.config.ServiceName, "port", m.config.Port, "type", ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for renderers in the background until Stop is called
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for m.ctx.Err() == nil {
		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				r := rendererFromEntry(entry)
				if r == nil {
					continue
				}
				m.logger.Debug("Discovered renderer", "name", r.Name, "url", r.URL())

				select {
				case m.renderers <- r:
				case <-m.ctx.Done():
				}
			}
		}()

		if err := mdns.QueryContext(m.ctx, queryParams(entries)); err != nil && m.ctx.Err() == nil {
			m.logger.Warn("mDNS query failed", "error", err)
		}
		close(entries)
		<-done

		select {
		case <-m.ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

// Renderers returns the channel of discovered renderers
func (m *Manager) Renderers() <-chan *Renderer {
	return m.renderers
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// Find returns the first renderer that answers before ctx is done
func Find(ctx context.Context) (*Renderer, error) {
	for ctx.Err() == nil {
		entries := make(chan *mdns.ServiceEntry, 10)
		found := make(chan *Renderer, 1)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				if r := rendererFromEntry(entry); r != nil {
					select {
					case found <- r:
					default:
					}
				}
			}
		}()

		err := mdns.QueryContext(ctx, queryParams(entries))
		close(entries)
		<-done
		select {
		case r := <-found:
			log.Info("Found renderer", "name", r.Name, "url", r.URL())
			return r, nil
		default:
		}
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("mdns query failed: %w", err)
		}
	}
	return nil, ErrNotFound
}

func queryParams(entries chan<- *mdns.ServiceEntry) *mdns.QueryParam {
	return &mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     queryTimeout,
		Entries:     entries,
		DisableIPv6: true,
	}
}

// rendererFromEntry converts a query answer; nil if it has no usable address
func rendererFromEntry(entry *mdns.ServiceEntry) *Renderer {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	case entry.Host != "":
		host = strings.TrimSuffix(entry.Host, ".")
	default:
		return nil
	}

	r := &Renderer{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: host,
		Port: entry.Port,
		Path: defaultPath,
	}
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok && v != "" {
			r.Path = v
		}
	}
	return r
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
