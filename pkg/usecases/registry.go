package usecases

// RegisterAll registers every use case of the service on m
func RegisterAll(m *Mediator, deps *Dependencies) {
	m.Register(DoLogin, func() UseCase {
		return HandlerFunc[LoginRequest, TokenResponse]((&loginUseCase{deps}).Handle)
	})
	m.Register(DoSignup, func() UseCase {
		return HandlerFunc[SignupRequest, TokenResponse]((&signupUseCase{deps}).Handle)
	})
	m.Register(DoLogout, func() UseCase {
		return HandlerFunc[LogoutRequest, LogoutResponse]((&logoutUseCase{deps}).Handle)
	})
	m.Register(RequestPasswordRecovery, func() UseCase {
		return HandlerFunc[RequestPasswordRecoveryRequest, RequestPasswordRecoveryResponse]((&requestPasswordRecoveryUseCase{deps}).Handle)
	})
	m.Register(ChangePassword, func() UseCase {
		return HandlerFunc[ChangePasswordRequest, ChangePasswordResponse]((&changePasswordUseCase{deps}).Handle)
	})

	m.Register(StartOTPRegistration, func() UseCase {
		return HandlerFunc[OTPRequest, OTPURIResponse]((&startOTPRegistrationUseCase{deps}).Handle)
	})
	m.Register(FinishOTPRegistration, func() UseCase {
		return HandlerFunc[OTPCodeRequest, TokenResponse]((&finishOTPRegistrationUseCase{deps}).Handle)
	})
	m.Register(GetOTPURI, func() UseCase {
		return HandlerFunc[OTPRequest, OTPURIResponse]((&getOTPURIUseCase{deps}).Handle)
	})
	m.Register(ValidateOTP, func() UseCase {
		return HandlerFunc[OTPCodeRequest, TokenResponse]((&validateOTPUseCase{deps}).Handle)
	})
	m.Register(DisableOTP, func() UseCase {
		return HandlerFunc[OTPRequest, DisableOTPResponse]((&disableOTPUseCase{deps}).Handle)
	})

	m.Register(CreateUser, func() UseCase {
		return HandlerFunc[CreateUserRequest, UserResponse]((&createUserUseCase{deps}).Handle)
	})
	m.Register(GetUser, func() UseCase {
		return HandlerFunc[GetUserRequest, UserResponse]((&getUserUseCase{deps}).Handle)
	})
	m.Register(ListUsers, func() UseCase {
		return HandlerFunc[ListRequest, ListUsersResponse]((&listUsersUseCase{deps}).Handle)
	})
	m.Register(UpdateUser, func() UseCase {
		return HandlerFunc[UpdateUserRequest, UserResponse]((&updateUserUseCase{deps}).Handle)
	})
	m.Register(ListUserHistories, func() UseCase {
		return HandlerFunc[ListRequest, ListUserHistoriesResponse]((&listUserHistoriesUseCase{deps}).Handle)
	})
	m.Register(ListUserHistoriesByUsername, func() UseCase {
		return HandlerFunc[ListUserHistoriesByUsernameRequest, ListUserHistoriesResponse]((&listUserHistoriesByUsernameUseCase{deps}).Handle)
	})
}
