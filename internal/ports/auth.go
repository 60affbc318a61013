package ports

import "context"

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (bool, error)
}
