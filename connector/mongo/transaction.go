package mongo

import (
	"context"
	"fmt"

	de "github.com/dataengine/dataengine"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Transaction runs fn inside a MongoDB session transaction. The session is
// opened on Connector's own client; Engine owns the one Connector instance,
// so there is no global database handle to reach for.
func (c *Connector) Transaction(ctx context.Context, env *de.Env, fn func(txEnv *de.Env) error) error {
	if env != nil {
		if _, ok := env.Transaction.(*mongo.Session); ok {
			return fn(env)
		}
	}
	session, err := c.client.StartSession()
	if err != nil {
		return de.ConnectorError(fmt.Errorf("start session: %w", err))
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx context.Context) (interface{}, error) {
		txEnv := env.WithTransaction(session)
		txEnv.Ctx = sessCtx
		return nil, fn(txEnv)
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return de.UniqueViolation("")
		}
		return de.ConnectorError(fmt.Errorf("transaction: %w", err))
	}
	return nil
}
