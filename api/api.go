package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/typesense/typesense-go/typesense/api"

	"github.com/teaflowhq/teaflow"
	"github.com/teaflowhq/teaflow/api/middleware"
	"github.com/teaflowhq/teaflow/config"
)

type Api struct {
	teaflow *teaflow.Teaflow
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/bids", a.CreateBid)
	router.GET("/bids", a.GetAllBids)
	router.GET("/bids/:id", a.GetBid)
	router.GET("/bids/:id/history", a.GetBidHistory)
	router.GET("/bids/:id/progress", a.GetBidProgress)
	router.POST("/bids/:id/transitions/validate", a.ValidateTransition)
	router.POST("/bids/:id/transitions", a.CommitTransition)
	router.POST("/bids/:id/transitions/next", a.NextAllowedStatuses)
	router.POST("/bids/:id/revert", a.RevertBid)

	router.POST("/bids/:id/eslip", a.GenerateESlip)
	router.POST("/bids/:id/eslip/sent", a.MarkESlipSent)
	router.POST("/bids/:id/split", a.ConfigureSplit)
	router.POST("/bids/:id/split/ready", a.MarkBeneficiaryReady)
	router.POST("/bids/:id/payout/review", a.ReviewPayout)
	router.POST("/bids/:id/release", a.RecordRelease)

	router.POST("/statements", a.UploadBankStatement)
	router.GET("/statements/:id/inflows", a.GetUploadInflows)
	router.POST("/inflows", a.RecordInflow)
	router.GET("/inflows/:id", a.GetInflow)
	router.GET("/matches/suggestions", a.SuggestMatches)
	router.POST("/matches/confirm", a.ConfirmMatch)
	router.POST("/inflows/:id/unmatch", a.UnmatchInflow)

	router.POST("/matching-rules", a.CreateMatchingRule)
	router.GET("/matching-rules", a.ListMatchingRules)
	router.PUT("/matching-rules/:id", a.UpdateMatchingRule)
	router.DELETE("/matching-rules/:id", a.DeleteMatchingRule)

	router.GET("/backup", a.BackupDB)
	router.GET("/backup-s3", a.BackupDBS3)

	router.POST("/search/:collection", a.Search)
	return a.router
}

func NewAPI(b *teaflow.Teaflow) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	r.POST("/webhook", func(c *gin.Context) {
		var payload map[string]interface{}
		err := c.Bind(&payload)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(payload)
		c.JSON(200, "webhook received")
	})

	return &Api{teaflow: b, router: r}
}

func (a Api) Search(c *gin.Context) {
	collection, passed := c.Params.Get("collection")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collection is required. pass id in the route /:collection"})
		return
	}

	var query api.SearchCollectionParams
	err := c.BindJSON(&query)
	if err != nil {
		return
	}

	resp, err := a.teaflow.Search(collection, &query)

	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
