package http

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

// Hook is a named step of request handling. A hook takes part by also
// implementing BeforeHook, AfterHook or both.
type Hook interface {
	Name() string
}

// BeforeHook runs before the route handler. Returning an error stops the
// chain: later Before steps and the handler are skipped, the error goes to
// the error boundary, and the After steps of the hooks reached so far still
// run, the failing one included.
type BeforeHook interface {
	Hook
	Before(c echo.Context) error
}

// AfterHook runs once the response has been produced, including responses
// written by the error boundary. err is the error the handler returned.
type AfterHook interface {
	Hook
	After(c echo.Context, err error)
}

// Chain turns an ordered hook list into a single middleware. Before steps
// run in list order and After steps in reverse order. Handler errors and
// panics are passed to the error boundary before any After step runs, so
// After steps see the final status code.
func Chain(hooks ...Hook) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ran := make([]AfterHook, 0, len(hooks))

			var err error
			for _, h := range hooks {
				if a, ok := h.(AfterHook); ok {
					ran = append(ran, a)
				}
				if b, ok := h.(BeforeHook); ok {
					if err = b.Before(c); err != nil {
						err = fmt.Errorf("%s: %w", h.Name(), err)
						break
					}
				}
			}
			if err == nil {
				err = invoke(next, c)
			}
			if err != nil {
				c.Error(err)
			}

			for i := len(ran) - 1; i >= 0; i-- {
				ran[i].After(c, err)
			}
			return nil
		}
	}
}

// invoke runs the handler, converting a panic into an error.
func invoke(next echo.HandlerFunc, c echo.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				err = fmt.Errorf("panic: %w", e)
				return
			}
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return next(c)
}
