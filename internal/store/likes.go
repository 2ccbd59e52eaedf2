package store

import "context"

// InsertLike records a like and reports whether it is new
func (s *Store) InsertLike(ctx context.Context, userID, productID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		"INSERT INTO product_likes (user_id, product_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		userID, productID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteLike removes a like and reports whether one existed
func (s *Store) DeleteLike(ctx context.Context, userID, productID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		"DELETE FROM product_likes WHERE user_id = $1 AND product_id = $2",
		userID, productID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
