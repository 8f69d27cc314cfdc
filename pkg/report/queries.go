// Package report holds the read queries run against a loaded catalogue
// and the console surfaces that present them.
package report

import (
	"errors"
	"fmt"

	"github.com/ha1tch/amzmeta/pkg/models"
)

// ErrUnknownQuery is returned for report ids outside the catalogue
var ErrUnknownQuery = errors.New("unknown query")

// Query is one catalogue entry. SQL uses ? placeholders; ASIN-scoped
// queries bind the ASIN to every placeholder.
type Query struct {
	ID        int
	Title     string
	NeedsASIN bool
	SQL       string
}

// Info returns the catalogue description of q
func (q Query) Info() models.ReportInfo {
	return models.ReportInfo{ID: q.ID, Title: q.Title, NeedsASIN: q.NeedsASIN}
}

// Args returns the bind arguments for asin
func (q Query) Args(asin string) []interface{} {
	if !q.NeedsASIN {
		return nil
	}
	n := 0
	for _, c := range q.SQL {
		if c == '?' {
			n++
		}
	}
	args := make([]interface{}, n)
	for i := range args {
		args[i] = asin
	}
	return args
}

var queries = []Query{
	{
		ID:        1,
		Title:     "Given a product, list the 5 most helpful reviews with the highest rating and the 5 most helpful reviews with the lowest rating",
		NeedsASIN: true,
		SQL: `
			SELECT * FROM (
				SELECT product_asin, time, user_id, rating, total_votes, helpfulness_votes
				FROM product_review
				WHERE product_asin = ?
				ORDER BY helpfulness_votes DESC, rating DESC
				LIMIT 5
			) AS best
			UNION
			SELECT * FROM (
				SELECT product_asin, time, user_id, rating, total_votes, helpfulness_votes
				FROM product_review
				WHERE product_asin = ?
				ORDER BY helpfulness_votes DESC, rating ASC
				LIMIT 5
			) AS worst
			ORDER BY helpfulness_votes DESC, rating DESC`,
	},
	{
		ID:        2,
		Title:     "Given a product, list the similar products with better sales rank",
		NeedsASIN: true,
		SQL: `
			SELECT p2.asin, p2.title, p2.group_name, p2.salesrank
			FROM product p1
			JOIN similar_product sp ON p1.asin = sp.product_asin
			JOIN product p2 ON sp.similar_asin = p2.asin
			WHERE p1.asin = ?
			AND p2.salesrank < p1.salesrank
			ORDER BY p2.salesrank, p2.asin`,
	},
	{
		ID:        3,
		Title:     "Given a product, show the daily evolution of its average rating",
		NeedsASIN: true,
		SQL: `
			SELECT time, ROUND(AVG(rating), 2) AS average_rating
			FROM product_review
			WHERE product_asin = ?
			GROUP BY time
			ORDER BY time`,
	},
	{
		ID:    4,
		Title: "List the 10 best selling products in each product group",
		SQL: `
			WITH ranked_products AS (
				SELECT
					p.asin,
					p.title,
					p.group_name,
					p.salesrank,
					ROW_NUMBER() OVER (PARTITION BY p.group_name ORDER BY p.salesrank, p.asin) AS rn
				FROM product p
				WHERE p.salesrank > 0
			)
			SELECT asin, title, group_name, salesrank
			FROM ranked_products
			WHERE rn <= 10
			ORDER BY group_name, rn`,
	},
	{
		ID:    5,
		Title: "List the 10 product groups with the highest average helpful votes on positive reviews",
		SQL: `
			SELECT
				product.group_name,
				ROUND(AVG(product_review.helpfulness_votes), 2) AS avg_helpful_votes
			FROM product_review
			JOIN product ON product_review.product_asin = product.asin
			WHERE product_review.rating >= 4
			GROUP BY product.group_name
			ORDER BY avg_helpful_votes DESC, product.group_name
			LIMIT 10`,
	},
	{
		ID:    6,
		Title: "List the 5 product categories with the highest average helpful votes on positive reviews",
		SQL: `
			SELECT
				category.category_name,
				ROUND(AVG(product_review.helpfulness_votes), 2) AS avg_helpful_votes
			FROM product_review
			JOIN product_category ON product_review.product_asin = product_category.product_asin
			JOIN category ON product_category.category_id = category.category_id
			WHERE product_review.rating >= 4
			GROUP BY category.category_name
			ORDER BY avg_helpful_votes DESC, category.category_name
			LIMIT 5`,
	},
	{
		ID:    7,
		Title: "List the 10 customers with the most reviews in each product group",
		SQL: `
			WITH ranked_reviews AS (
				SELECT
					p.group_name,
					pr.user_id,
					COUNT(pr.user_id) AS review_count,
					ROW_NUMBER() OVER (
						PARTITION BY p.group_name
						ORDER BY COUNT(pr.user_id) DESC, pr.user_id
					) AS rn
				FROM product_review pr
				JOIN product p ON pr.product_asin = p.asin
				GROUP BY p.group_name, pr.user_id
			)
			SELECT group_name, user_id, review_count
			FROM ranked_reviews
			WHERE rn <= 10
			ORDER BY group_name, rn`,
	},
}

// Queries returns the catalogue in menu order
func Queries() []Query {
	out := make([]Query, len(queries))
	copy(out, queries)
	return out
}

// Lookup finds a query by id
func Lookup(id int) (Query, error) {
	for _, q := range queries {
		if q.ID == id {
			return q, nil
		}
	}
	return Query{}, fmt.Errorf("%w: %d", ErrUnknownQuery, id)
}
