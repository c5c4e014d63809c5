package panel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/sammck-go/panelrelay/pkg/logger"
	"github.com/sammck-go/panelrelay/pkg/veyon"
)

// DefaultWarmUpDelay is how long after admission the first forced refresh and
// the metadata resolvers start
const DefaultWarmUpDelay = time.Second

// ErrNoPanel is returned for addresses the Controller has no panel for
var ErrNoPanel = errors.New("panel: no panel for address")

// Config parameterizes a Controller. Zero values take package defaults.
type Config struct {
	Method   veyon.AuthMethod
	Username string
	Password string

	Lookahead        int
	AdmitInterval    time.Duration
	PollInterval     time.Duration
	Preview          veyon.FrameOptions
	WarmUpDelay      time.Duration
	MetadataRetries  int
	MetadataCooldown time.Duration

	// MessageLauncher returns the command line that displays text on an
	// endpoint. SendMessage fails if it is nil.
	MessageLauncher func(text string) string
}

func (cfg Config) withDefaults() Config {
	if cfg.Method == "" {
		cfg.Method = veyon.AuthLogon
	}
	if cfg.Preview == (veyon.FrameOptions{}) {
		cfg.Preview = DefaultPreview
	}
	if cfg.WarmUpDelay <= 0 {
		cfg.WarmUpDelay = DefaultWarmUpDelay
	}
	if cfg.MetadataRetries <= 0 {
		cfg.MetadataRetries = DefaultMetadataRetries
	}
	if cfg.MetadataCooldown <= 0 {
		cfg.MetadataCooldown = DefaultMetadataCooldown
	}
	return cfg
}

// MshtaLauncher shows messages through the relay server's /message page using
// mshta on Windows endpoints
func MshtaLauncher(relayURL string) func(text string) string {
	return func(text string) string {
		return fmt.Sprintf("mshta %s/message?text=%s", relayURL, url.QueryEscape(text))
	}
}

type panelState struct {
	address string
	session *veyon.Session
	display Display
	poller  *Poller
	cancel  context.CancelFunc
}

// Controller owns the panels of one operator: the Registry and Queue, and for
// each live Session its Display, Poller and metadata resolvers.
type Controller struct {
	logger.Logger
	client     *veyon.Client
	cfg        Config
	registry   *Registry
	queue      *Queue
	newDisplay DisplayFactory
	visibility Visibility
	store      *Store

	mu     sync.Mutex
	panels map[string]*panelState
	wg     sync.WaitGroup
}

// NewController creates a Controller. store may be nil, in which case
// successful addresses are not saved.
func NewController(lg logger.Logger, client *veyon.Client, cfg Config, newDisplay DisplayFactory, visibility Visibility, store *Store) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		Logger:     lg,
		client:     client,
		cfg:        cfg,
		registry:   NewRegistry(),
		newDisplay: newDisplay,
		visibility: visibility,
		store:      store,
		panels:     make(map[string]*panelState),
	}
	c.queue = NewQueue(lg.Fork("queue"), c.registry, c.authenticate, cfg.Lookahead, cfg.AdmitInterval)
	c.queue.OnAdmit = c.onAdmit
	c.queue.OnReject = c.onReject
	return c
}

// Registry returns the Controller's registry
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Queue returns the Controller's admission queue
func (c *Controller) Queue() *Queue {
	return c.queue
}

func (c *Controller) authenticate(ctx context.Context, address string) (*veyon.Session, error) {
	creds := veyon.Credentials(c.cfg.Method, c.cfg.Username, c.cfg.Password)
	return c.client.Authenticate(ctx, address, c.cfg.Method, creds)
}

// Enqueue requests a connection to address
func (c *Controller) Enqueue(address string) bool {
	return c.queue.Enqueue(address)
}

// Run admits queued connections until ctx is done, then closes every panel.
// Addresses added to the Store by another process are enqueued as they appear.
func (c *Controller) Run(ctx context.Context) error {
	if c.store != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.store.Watch(ctx, func(address string) {
				c.Enqueue(address)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				c.WLogf("Saved endpoint watch stopped: %s", err)
			}
		}()
	}
	err := c.queue.Run(ctx)
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.CloseAll(closeCtx)
	c.wg.Wait()
	return err
}

func (c *Controller) onAdmit(ctx context.Context, s *veyon.Session) {
	address := s.Host()
	display := c.newDisplay(address)
	pctx, cancel := context.WithCancel(ctx)
	p := &panelState{
		address: address,
		session: s,
		display: display,
		poller:  NewPoller(c.Fork("%s", address), s, display, c.visibility, c.cfg.Preview, c.cfg.PollInterval),
		cancel:  cancel,
	}
	c.mu.Lock()
	if old := c.panels[address]; old != nil {
		old.cancel()
	}
	c.panels[address] = p
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Add(address); err != nil {
			c.WLogf("Unable to save %s: %s", address, err)
		}
	}

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		p.poller.Run(pctx)
	}()
	go func() {
		defer c.wg.Done()
		c.warmUp(pctx, p)
	}()
	go func() {
		defer c.wg.Done()
		c.watchTermination(pctx, p)
	}()
}

// warmUp forces the first refresh and resolves the slow metadata fields
func (c *Controller) warmUp(ctx context.Context, p *panelState) {
	if err := sleepContext(ctx, c.cfg.WarmUpDelay); err != nil {
		return
	}
	p.poller.Tick(ctx, true)

	lg := c.Fork("%s: metadata", p.address)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ResolveHostName(ctx, NewRetrier(lg, c.cfg.MetadataRetries, c.cfg.MetadataCooldown), p.session, p.display)
	}()
	go func() {
		defer wg.Done()
		ResolveUserName(ctx, NewRetrier(lg, c.cfg.MetadataRetries, c.cfg.MetadataCooldown), p.session, p.display)
	}()
	wg.Wait()
}

// watchTermination discards a Session whose poller stopped on a terminal
// error, whichever call found it
func (c *Controller) watchTermination(ctx context.Context, p *panelState) {
	select {
	case <-ctx.Done():
		return
	case <-p.poller.Done():
	}
	err := p.poller.Err()
	if ctx.Err() != nil || err == nil {
		return
	}
	p.session.Invalidate(err)
	if current, ok := c.registry.Session(p.address); ok && current == p.session {
		c.registry.Remove(p.address)
	}
	c.ILogf("Session for %s is no longer valid: %s", p.address, err)
}

func (c *Controller) onReject(ctx context.Context, address string, err error) {
	var apiErr *veyon.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != veyon.CodeAuthFailed {
		return
	}
	display := c.newDisplay(address)
	display.ShowError(apiErr.Message)
	c.mu.Lock()
	if old := c.panels[address]; old != nil {
		old.cancel()
	}
	c.panels[address] = &panelState{address: address, display: display, cancel: func() {}}
	c.mu.Unlock()
}

// Close tears down the panel for address: the poller is stopped and the
// Session destroyed in the same step, and the panel is discarded.
func (c *Controller) Close(ctx context.Context, address string) error {
	c.mu.Lock()
	p := c.panels[address]
	delete(c.panels, address)
	c.mu.Unlock()
	if p == nil {
		return ErrNoPanel
	}
	c.registry.Remove(address)
	p.cancel()
	if p.poller != nil {
		p.poller.Stop()
	}
	if p.session != nil {
		return p.session.Destroy(ctx)
	}
	return nil
}

// CloseAll closes every panel and empties the registry
func (c *Controller) CloseAll(ctx context.Context) {
	for _, address := range c.Panels() {
		if err := c.Close(ctx, address); err != nil && !errors.Is(err, ErrNoPanel) {
			c.DLogf("Close of %s: %s", address, err)
		}
	}
	for _, s := range c.registry.Clear() {
		s.Destroy(ctx)
	}
}

// Panels returns the addresses that currently have a panel, sorted
func (c *Controller) Panels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.panels))
	for address := range c.panels {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}

// Deliver shows a relayed message on the panel for address, if there is one
func (c *Controller) Deliver(address, text string) bool {
	c.mu.Lock()
	p := c.panels[address]
	c.mu.Unlock()
	if p == nil {
		return false
	}
	p.display.ShowMessage(text, false)
	return true
}

// SendMessage displays text on the endpoint at address by launching the
// message page through the StartApp feature
func (c *Controller) SendMessage(ctx context.Context, address, text string) error {
	if c.cfg.MessageLauncher == nil {
		return errors.New("panel: no message launcher configured")
	}
	s, ok := c.registry.Session(address)
	if !ok {
		return ErrNoPanel
	}
	features, err := s.Features(ctx)
	if err != nil {
		return err
	}
	f, ok := features.ByName(veyon.FeatureStartApp)
	if !ok {
		return fmt.Errorf("panel: %s has no %s feature", address, veyon.FeatureStartApp)
	}
	if err := f.SetStatus(ctx, true, veyon.StartAppArgs(c.cfg.MessageLauncher(text))); err != nil {
		return err
	}
	if ok := c.deliverOutgoing(address, text); !ok {
		c.DLogf("Sent message to %s, but its panel is gone", address)
	}
	return nil
}

func (c *Controller) deliverOutgoing(address, text string) bool {
	c.mu.Lock()
	p := c.panels[address]
	c.mu.Unlock()
	if p == nil {
		return false
	}
	p.display.ShowMessage(text, true)
	return true
}
