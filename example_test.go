package movierec_test

import (
	"context"
	"fmt"

	"github.com/rushteam/movierec"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/dataset"
)

func Example() {
	ctx := context.Background()
	repo := dataset.NewMemoryRepository()
	defer repo.Close()

	_ = repo.PutMovie(ctx, core.NewMovie(1, "Toy Story (1995)", "Adventure|Animation"))
	_ = repo.PutMovie(ctx, core.NewMovie(2, "Heat (1995)", "Action|Crime"))
	_ = repo.PutMovie(ctx, core.NewMovie(3, "Jumanji (1995)", "Adventure|Fantasy"))

	eng := movierec.NewEngine(repo, movierec.Options{})
	if err := eng.Init(ctx); err != nil {
		fmt.Println(err)
		return
	}

	res := eng.GetRecommendations(ctx, 1, 2)
	fmt.Println(res.Strategy == movierec.StrategyColdStart)
	for _, rec := range res.Items {
		fmt.Println(rec.MovieID, rec.Title)
	}
	// Output:
	// true
	// 1 Toy Story (1995)
	// 3 Jumanji (1995)
}
