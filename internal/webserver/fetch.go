package webserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/rosalind/webcache/internal/logging"
	"github.com/rosalind/webcache/policy"
	"github.com/rosalind/webcache/receiver"
	"github.com/rosalind/webcache/resource"
)

// newFetchHandler builds the GET /fetch?url=... handler: it translates an
// incoming Range header into a Cache.FetchBytes call and synthesizes the
// response headers a byte-range HTTP client expects.
func newFetchHandler(cache Cache, log *logrus.Logger, stats *Stats) fiber.Handler {
	return func(c fiber.Ctx) error {
		url := c.Query("url")
		if strings.TrimSpace(url) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}

		offset, hasLength, length, ok := parseRangeHeader(c.Get("Range"))
		if !ok {
			return c.Status(fiber.StatusRequestedRangeNotSatisfiable).JSON(fiber.Map{"error": "range_invalid"})
		}

		if storage, total, known := cache.Peek(url); known && offset > total {
			_ = storage
			c.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
			return c.SendStatus(fiber.StatusRequestedRangeNotSatisfiable)
		}

		info, data, fetched := cache.FetchBytes(c.Context(), url, offset, hasLength, length, policy.Default(), receiver.NewProgress())
		stats.recordFetch(fetched)
		log.WithFields(logging.FetchFields(url, "default", false, fetched)).
			WithField("request_id", RequestID(c)).
			Info("fetch")
		if !fetched {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}

		writeResourceHeaders(c, info, offset, int64(len(data)), hasLength)
		status := fiber.StatusOK
		if offset > 0 || hasLength {
			status = fiber.StatusPartialContent
		}
		return c.Status(status).Send(data)
	}
}

// writeResourceHeaders synthesizes the headers spec.md §4.4/§6 expects a
// byte-range-aware response to carry: Content-Type, Accept-Ranges,
// Content-Range when a range was served, Content-Encoding: identity (the
// fetcher always requests identity, never a transcoded encoding), and any
// whitelisted upstream headers the fetcher already filtered into info.
func writeResourceHeaders(c fiber.Ctx, info resource.Info, offset, served int64, hasLength bool) {
	c.Set("Content-Type", info.MIMEType)
	c.Set("Accept-Ranges", "bytes")
	c.Set("Content-Encoding", "identity")
	c.Set("Cache-Control", "no-transform")

	if offset > 0 || hasLength {
		end := offset + served - 1
		total := "*"
		if info.HasLength {
			total = strconv.FormatInt(info.TotalLength, 10)
		}
		c.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", offset, end, total))
	}

	for name, value := range info.Headers {
		if isHopByHopHeader(name) {
			continue
		}
		c.Set(name, value)
	}
}

// parseRangeHeader decodes a "bytes=start-end" or "bytes=start-" Range
// header. A suffix range ("bytes=-N") isn't supported since the total
// length isn't known before the fetch completes; it's rejected as invalid,
// matching spec.md §4.4's "offset or length" request shapes only.
func parseRangeHeader(raw string) (offset int64, hasLength bool, length int64, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, 0, true
	}
	raw = strings.TrimPrefix(raw, "bytes=")
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return 0, false, 0, false
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 {
		return 0, false, 0, false
	}
	if parts[1] == "" {
		return start, false, 0, true
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return 0, false, 0, false
	}
	return start, true, end - start + 1, true
}
