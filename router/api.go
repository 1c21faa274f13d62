package router

import (
	"database/sql"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"

	"github.com/resqhq/resq/authz"
	"github.com/resqhq/resq/handlers"
	"github.com/resqhq/resq/internal/config"
	"github.com/resqhq/resq/services"
	"github.com/resqhq/resq/workers"
)

// NewGinRouter wires services and handlers onto a gin engine. The
// notifications argument is optional; when the notification worker runs in a
// separate process, pass nil and the health endpoint skips queue stats.
func NewGinRouter(pg *sql.DB, redisClient *redis.Client, notifications *workers.NotificationWorker) *gin.Engine {
	r := gin.Default()

	if config.App.Datadog.AgentHost != "" {
		r.Use(gintrace.Middleware("resq-api"))
	}

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Org-ID, X-Project-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Services
	identityService, err := services.NewIdentityServiceWithDB(config.App.DataDir, pg, config.App.InstanceID)
	if err != nil {
		log.Printf("[router] failed to initialize identity service: %v", err)
	}
	relayService := services.NewCloudRelayService(identityService)
	if relayService.IsConfigured() {
		go func() {
			if err := relayService.RegisterWithCloud(); err != nil {
				log.Printf("[router] cloud relay registration failed: %v", err)
			}
		}()
	}

	fcmService, err := services.NewFCMService(pg, relayService)
	if err != nil {
		log.Printf("[router] FCM disabled: %v", err)
	}
	slackService := services.NewSlackService(pg)
	userService := services.NewUserService(pg)
	apiKeyService := services.NewAPIKeyService(pg)
	groupService := services.NewGroupService(pg)
	oncallService := services.NewOnCallService(pg)
	rotationService := services.NewRotationService(pg, config.App.Scheduler.HorizonDays)
	schedulerService := services.NewSchedulerService(pg, rotationService)
	overrideService := services.NewOverrideService(pg)
	escalationService := services.NewEscalationService(pg, groupService, oncallService)
	serviceService := services.NewServiceService(pg)
	integrationService := services.NewIntegrationService(pg)
	incidentService := services.NewIncidentService(pg)

	// Connect tokens survive restarts only with Redis; single-instance
	// deployments without Redis fall back to the in-memory store.
	var connectStore services.ConnectTokenStore
	if redisClient != nil {
		connectStore = services.NewRedisConnectTokenStore(redisClient)
	} else {
		connectStore = services.NewMemoryConnectTokenStore()
	}

	// Authorization backend
	authzBackend, membershipMgr, orgRepo, projectRepo := authz.NewSimpleBackend(pg)
	orgService := authz.NewOrgService(authzBackend, membershipMgr, orgRepo)
	projectService := authz.NewProjectService(authzBackend, membershipMgr, projectRepo, orgRepo)

	// Handlers
	auth := handlers.NewAuthMiddleware(userService, apiKeyService, authzBackend)
	incidentHandler := handlers.NewIncidentHandler(incidentService, escalationService)
	groupHandler := handlers.NewGroupHandler(groupService)
	schedulerHandler := handlers.NewSchedulerHandler(schedulerService, rotationService, oncallService, overrideService)
	serviceHandler := handlers.NewServiceHandler(serviceService, escalationService)
	integrationHandler := handlers.NewIntegrationHandler(integrationService)
	webhookHandler := handlers.NewWebhookHandler(integrationService, serviceService, escalationService, incidentService)
	userHandler := handlers.NewUserHandler(userService, slackService)
	apiKeyHandler := handlers.NewAPIKeyHandler(apiKeyService)
	orgHandler := handlers.NewOrgHandler(orgService, projectService)
	mobileHandler := handlers.NewMobileHandler(pg, identityService, connectStore, fcmService)
	identityHandler := handlers.NewIdentityHandler(identityService)
	healthHandler := handlers.NewHealthHandler(pg, notifications)

	// Public endpoints. Webhooks authenticate by integration id, mobile
	// endpoints by their own token schemes.
	r.GET("/health", healthHandler.Health)
	r.GET("/identity/public-key", identityHandler.GetPublicKey)
	r.POST("/webhook/:type/:integration_id", webhookHandler.ReceiveWebhook)

	mobilePublic := r.Group("/mobile")
	{
		mobilePublic.GET("/auth-config", mobileHandler.GetAuthConfig)
		mobilePublic.POST("/connect/verify", mobileHandler.VerifyConnect)
		mobilePublic.POST("/devices/register-push", mobileHandler.RegisterDevicePush)
	}

	// Protected endpoints
	api := r.Group("/api")
	api.Use(auth.RequireAuth())
	{
		// Org and project management runs before tenant scoping: the caller
		// picks an org here, then sends it as X-Org-ID everywhere else.
		orgRoutes := api.Group("/orgs")
		{
			orgRoutes.POST("", orgHandler.CreateOrg)
			orgRoutes.GET("", orgHandler.ListOrgs)
			orgRoutes.GET("/:org_id", orgHandler.GetOrg)
			orgRoutes.PUT("/:org_id", orgHandler.UpdateOrg)
			orgRoutes.DELETE("/:org_id", orgHandler.DeleteOrg)
			orgRoutes.GET("/:org_id/members", orgHandler.ListOrgMembers)
			orgRoutes.POST("/:org_id/members", orgHandler.AddOrgMember)
			orgRoutes.PUT("/:org_id/members/:user_id", orgHandler.UpdateOrgMember)
			orgRoutes.DELETE("/:org_id/members/:user_id", orgHandler.RemoveOrgMember)
		}

		projectRoutes := api.Group("/projects")
		{
			projectRoutes.POST("", orgHandler.CreateProject)
			projectRoutes.GET("", orgHandler.ListProjects)
			projectRoutes.GET("/:project_id", orgHandler.GetProject)
			projectRoutes.PUT("/:project_id", orgHandler.UpdateProject)
			projectRoutes.DELETE("/:project_id", orgHandler.DeleteProject)
			projectRoutes.GET("/:project_id/members", orgHandler.ListProjectMembers)
			projectRoutes.POST("/:project_id/members", orgHandler.AddProjectMember)
			projectRoutes.DELETE("/:project_id/members/:user_id", orgHandler.RemoveProjectMember)
		}

		// Mobile pairing needs auth but no tenant scope.
		mobileRoutes := api.Group("/mobile")
		{
			mobileRoutes.POST("/connect/generate", mobileHandler.GenerateConnectQR)
			mobileRoutes.GET("/devices", mobileHandler.ListDevices)
			mobileRoutes.DELETE("/devices/:device_id", mobileHandler.DisconnectDevice)
		}

		// Per-user settings, no tenant scope.
		api.GET("/users/me", userHandler.GetCurrentUser)
		api.PUT("/users/me/fcm-token", userHandler.UpdateFCMToken)
		api.GET("/users/me/notification-config", userHandler.GetNotificationConfig)
		api.PUT("/users/me/notification-config", userHandler.UpdateNotificationConfig)

		// Everything below requires the X-Org-ID tenant header (API keys
		// carry their org implicitly).
		scoped := api.Group("")
		scoped.Use(auth.RequireOrg())
		{
			userRoutes := scoped.Group("/users")
			{
				userRoutes.GET("", userHandler.ListUsers)
				userRoutes.GET("/search", userHandler.SearchUsers)
				userRoutes.GET("/:id", userHandler.GetUser)
				userRoutes.PUT("/:id", userHandler.UpdateUser)
			}

			apiKeyRoutes := scoped.Group("/api-keys")
			{
				apiKeyRoutes.POST("", apiKeyHandler.CreateAPIKey)
				apiKeyRoutes.GET("", apiKeyHandler.ListAPIKeys)
				apiKeyRoutes.DELETE("/:id", apiKeyHandler.DeleteAPIKey)
			}

			incidentRoutes := scoped.Group("/incidents")
			{
				incidentRoutes.GET("", incidentHandler.ListIncidents)
				incidentRoutes.POST("", incidentHandler.CreateIncident)
				incidentRoutes.GET("/stats", incidentHandler.GetIncidentStats)
				incidentRoutes.GET("/:id", incidentHandler.GetIncident)
				incidentRoutes.PUT("/:id/acknowledge", incidentHandler.AcknowledgeIncident)
				incidentRoutes.PUT("/:id/resolve", incidentHandler.ResolveIncident)
				incidentRoutes.POST("/:id/assign", incidentHandler.AssignIncident)
				incidentRoutes.POST("/:id/notes", incidentHandler.AddNote)
				incidentRoutes.GET("/:id/events", incidentHandler.GetIncidentEvents)
			}

			groupRoutes := scoped.Group("/groups")
			{
				groupRoutes.GET("", groupHandler.ListGroups)
				groupRoutes.GET("/mine", groupHandler.GetMyGroups)
				groupRoutes.POST("", groupHandler.CreateGroup)
				groupRoutes.GET("/:id", groupHandler.GetGroup)
				groupRoutes.PUT("/:id", groupHandler.UpdateGroup)
				groupRoutes.DELETE("/:id", groupHandler.DeleteGroup)

				groupRoutes.GET("/:id/members", groupHandler.ListGroupMembers)
				groupRoutes.POST("/:id/members", groupHandler.AddGroupMember)
				groupRoutes.PUT("/:id/members/:user_id", groupHandler.UpdateGroupMember)
				groupRoutes.DELETE("/:id/members/:user_id", groupHandler.RemoveGroupMember)

				groupRoutes.POST("/:id/schedulers", schedulerHandler.CreateScheduler)
				groupRoutes.GET("/:id/schedulers", schedulerHandler.ListSchedulers)
				groupRoutes.GET("/:id/shifts", schedulerHandler.GetGroupShifts)
				groupRoutes.GET("/:id/oncall", schedulerHandler.GetCurrentOnCall)
				groupRoutes.GET("/:id/oncall/upcoming", schedulerHandler.GetUpcomingShifts)
				groupRoutes.GET("/:id/overrides", schedulerHandler.ListOverrides)

				groupRoutes.POST("/:id/services", serviceHandler.CreateService)
				groupRoutes.POST("/:id/escalation-policies", serviceHandler.CreateEscalationPolicy)
				groupRoutes.GET("/:id/escalation-policies", serviceHandler.ListEscalationPolicies)
			}

			schedulerRoutes := scoped.Group("/schedulers")
			{
				schedulerRoutes.GET("/:scheduler_id", schedulerHandler.GetScheduler)
				schedulerRoutes.PUT("/:scheduler_id", schedulerHandler.UpdateScheduler)
				schedulerRoutes.DELETE("/:scheduler_id", schedulerHandler.DeleteScheduler)
				schedulerRoutes.GET("/:scheduler_id/shifts", schedulerHandler.GetSchedulerShifts)
				schedulerRoutes.POST("/:scheduler_id/rotations", schedulerHandler.CreateRotation)
				schedulerRoutes.GET("/:scheduler_id/rotations", schedulerHandler.ListRotations)
			}

			rotationRoutes := scoped.Group("/rotations")
			{
				rotationRoutes.GET("/:rotation_id", schedulerHandler.GetRotation)
				rotationRoutes.PUT("/:rotation_id", schedulerHandler.UpdateRotation)
				rotationRoutes.DELETE("/:rotation_id", schedulerHandler.DeleteRotation)
				rotationRoutes.POST("/:rotation_id/regenerate", schedulerHandler.RegenerateShifts)
			}

			scoped.POST("/shifts/swap", schedulerHandler.SwapShifts)
			scoped.POST("/overrides", schedulerHandler.CreateOverride)
			scoped.DELETE("/overrides/:override_id", schedulerHandler.DeleteOverride)

			serviceRoutes := scoped.Group("/services")
			{
				serviceRoutes.GET("", serviceHandler.ListServices)
				serviceRoutes.GET("/:id", serviceHandler.GetService)
				serviceRoutes.PUT("/:id", serviceHandler.UpdateService)
				serviceRoutes.DELETE("/:id", serviceHandler.DeleteService)
				serviceRoutes.POST("/:id/integrations", serviceHandler.AddServiceIntegration)
				serviceRoutes.GET("/:id/integrations", serviceHandler.ListServiceIntegrations)
			}

			scoped.PUT("/service-integrations/:mapping_id", serviceHandler.UpdateServiceIntegration)
			scoped.DELETE("/service-integrations/:mapping_id", serviceHandler.RemoveServiceIntegration)

			policyRoutes := scoped.Group("/escalation-policies")
			{
				policyRoutes.GET("/:policy_id", serviceHandler.GetEscalationPolicy)
				policyRoutes.PUT("/:policy_id", serviceHandler.UpdateEscalationPolicy)
				policyRoutes.DELETE("/:policy_id", serviceHandler.DeleteEscalationPolicy)
			}

			// Integration config changes alter alert routing for the whole
			// org, so they need at least the admin role.
			integrationRoutes := scoped.Group("/integrations")
			{
				integrationRoutes.GET("", integrationHandler.ListIntegrations)
				integrationRoutes.GET("/:id", integrationHandler.GetIntegration)

				integrationAdmin := integrationRoutes.Group("", auth.RequireOrgRole(authz.RoleAdmin))
				integrationAdmin.POST("", integrationHandler.CreateIntegration)
				integrationAdmin.PUT("/:id", integrationHandler.UpdateIntegration)
				integrationAdmin.DELETE("/:id", integrationHandler.DeleteIntegration)
			}
		}
	}

	return r
}
