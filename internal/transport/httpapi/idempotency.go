package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

const idempotencyTTL = 24 * time.Hour

// noopDone используется, когда запрос выполняется без idempotency-key.
func noopDone(int, interface{}) {}

// beginIdempotent обрабатывает заголовок Idempotency-Key.
// Возвращает replayed=true, если ответ уже отправлен (повтор, конфликт
// или запрос ещё в обработке), и done-callback для фиксации результата.
func (s *Server) beginIdempotent(c *gin.Context, body []byte) (bool, func(status int, resp interface{})) {
	key := c.GetHeader("Idempotency-Key")
	if key == "" || s.idempotency == nil {
		return false, noopDone
	}

	hash := requestHash(body)
	record, err := s.idempotency.CreateProcessing(key, hash, time.Now().UTC().Add(idempotencyTTL))
	switch {
	case err == nil:
		// Ключ захвачен, обрабатываем запрос первыми.
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "idempotency key was used with a different request body",
		})
		return true, noopDone
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status == domain.IdempotencyStatusProcessing {
			c.JSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in flight"})
			return true, noopDone
		}
		s.replayStoredResponse(c, record)
		return true, noopDone
	default:
		// Хранилище ключей недоступно: запрос выполняется без
		// idempotency-гарантии, это лучше отказа в обслуживании.
		s.logger.WithError(err).Warn("idempotency store unavailable")
		return false, noopDone
	}

	done := func(status int, resp interface{}) {
		var payload []byte
		if resp != nil {
			raw, err := json.Marshal(resp)
			if err != nil {
				s.logger.WithError(err).Warn("marshal idempotent response failed")
			} else {
				payload = raw
			}
		}

		var markErr error
		if status >= http.StatusOK && status < http.StatusBadRequest {
			markErr = s.idempotency.MarkDone(key, payload, status)
		} else {
			markErr = s.idempotency.MarkFailed(key, payload, status)
		}
		if markErr != nil {
			s.logger.WithError(markErr).Warn("finalize idempotency record failed")
		}
	}
	return false, done
}

func (s *Server) replayStoredResponse(c *gin.Context, record domain.IdempotencyRecord) {
	status := record.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	if len(record.ResponseBody) == 0 {
		c.Status(status)
		return
	}
	c.Data(status, "application/json; charset=utf-8", record.ResponseBody)
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// bindJSONBytes разбирает уже прочитанное тело запроса.
func bindJSONBytes(c *gin.Context, body []byte, obj interface{}) error {
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return err
	}
	return nil
}
