package display

import (
	"image"
	_ "image/gif"  // Support GIF format
	_ "image/jpeg" // Support JPEG format
	_ "image/png"  // Support PNG format
	"log"
	"net/http"
	"sync"
	"time"

	_ "golang.org/x/image/webp" // Support WebP format (directory avatars)
)

// AvatarCache stores decoded, circle-cropped avatars with LRU eviction.
// Lookups never block on the network.
type AvatarCache struct {
	mu      sync.RWMutex
	images  map[string]*cachedAvatar
	order   []string // LRU order (oldest first)
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	// Pending fetches
	pending map[string]bool
	client  *http.Client
	sem     chan struct{} // Semaphore for concurrent fetches
	wg      sync.WaitGroup
}

type cachedAvatar struct {
	Image     image.Image
	FetchedAt time.Time
}

const (
	DefaultMaxAvatars    = 64
	AvatarTTL            = 30 * time.Minute
	MaxConcurrentFetches = 3
	FetchTimeout         = 5 * time.Second
	maxAvatarBytes       = 4 << 20
)

// NewAvatarCache creates a cache holding up to maxSize avatars
func NewAvatarCache(maxSize int) *AvatarCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxAvatars
	}
	return &AvatarCache{
		images:  make(map[string]*cachedAvatar),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     AvatarTTL,
		now:     time.Now,
		pending: make(map[string]bool),
		client: &http.Client{
			Timeout: FetchTimeout,
		},
		sem: make(chan struct{}, MaxConcurrentFetches),
	}
}

// Get returns a cached avatar or nil
func (c *AvatarCache) Get(url string) image.Image {
	if url == "" {
		return nil
	}

	c.mu.RLock()
	cached, exists := c.images[url]
	c.mu.RUnlock()

	if !exists {
		return nil
	}

	// Check TTL
	if c.now().Sub(cached.FetchedAt) > c.ttl {
		c.mu.Lock()
		c.remove(url)
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.touch(url)
	c.mu.Unlock()
	return cached.Image
}

// GetOrFetch returns the cached avatar or starts an async fetch and
// returns nil
func (c *AvatarCache) GetOrFetch(url string) image.Image {
	if url == "" {
		return nil
	}

	if img := c.Get(url); img != nil {
		return img
	}

	c.mu.Lock()
	if !c.pending[url] {
		c.pending[url] = true
		c.wg.Add(1)
		go c.fetchAsync(url)
	}
	c.mu.Unlock()

	return nil
}

// Wait blocks until in-flight fetches finish
func (c *AvatarCache) Wait() {
	c.wg.Wait()
}

// fetchAsync downloads and caches an avatar
func (c *AvatarCache) fetchAsync(url string) {
	defer c.wg.Done()

	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	defer func() {
		c.mu.Lock()
		delete(c.pending, url)
		c.mu.Unlock()
	}()

	short := url[:min(50, len(url))]

	resp, err := c.client.Get(url)
	if err != nil {
		log.Printf("⚠️ Avatar fetch failed for %s: %v", short, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️ Avatar fetch returned %d for %s", resp.StatusCode, short)
		return
	}

	img, format, err := image.Decode(http.MaxBytesReader(nil, resp.Body, maxAvatarBytes))
	if err != nil {
		log.Printf("⚠️ Avatar decode failed for %s: %v (Content-Type: %s)",
			short, err, resp.Header.Get("Content-Type"))
		return
	}
	log.Printf("🖼️ Avatar decoded (format: %s) for %s", format, short)

	circle := makeCircular(img)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.images[url]; !exists && len(c.images) >= c.maxSize {
		c.evict()
	}
	c.remove(url)
	c.images[url] = &cachedAvatar{
		Image:     circle,
		FetchedAt: c.now(),
	}
	c.order = append(c.order, url)
}

// makeCircular creates a circular crop of the image's top-left square
func makeCircular(img image.Image) image.Image {
	bounds := img.Bounds()
	size := min(bounds.Dx(), bounds.Dy())

	circle := image.NewRGBA(image.Rect(0, 0, size, size))
	center := size / 2
	radius := size / 2

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := x - center
			dy := y - center
			if dx*dx+dy*dy <= radius*radius {
				circle.Set(x, y, img.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
	}

	return circle
}

// touch moves url to the most recently used end. Caller holds mu.
func (c *AvatarCache) touch(url string) {
	for i, u := range c.order {
		if u == url {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, url)
			return
		}
	}
}

// remove drops url. Caller holds mu.
func (c *AvatarCache) remove(url string) {
	delete(c.images, url)
	for i, u := range c.order {
		if u == url {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// evict removes the least recently used avatar. Caller holds mu.
func (c *AvatarCache) evict() {
	if len(c.order) == 0 {
		return
	}

	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.images, oldest)
}

// Size returns the current cache size
func (c *AvatarCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}
